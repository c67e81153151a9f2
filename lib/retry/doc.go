// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry holds the delivery and authentication retry policy:
// batch thresholds, flush cadences, retry intervals, and cache
// limits.
//
// Defaults are fixed at process start. After the first successful
// authentication the collector's server configuration may override
// individual knobs, exactly once. Overrides arrive as wire strings;
// a value that fails to parse is logged and the local default kept,
// so a misconfigured collector can never crash or stall the SDK.
// Running loops pick new knobs up on their next natural tick; an
// in-flight wait is never truncated.
package retry
