// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the SDK's periodic loops.
//
// Every timed behavior in the SDK (the delivery queue flush cadence,
// the authentication retry interval, the token refresh poll) runs
// against a Clock rather than the time package directly. Production
// code injects Real(); tests inject Fake() and drive time explicitly
// with Advance, which makes timing-sensitive tests deterministic and
// instant.
package clock
