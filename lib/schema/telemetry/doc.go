// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the SDK's telemetry record types: events,
// log records, and custom metric points, one type per delivery
// channel, plus the batch envelope every channel posts to the
// collector.
//
// Types carry JSON struct tags. The direct HTTP transport serializes
// batches as JSON; the secondary-channel transport serializes the
// same types as CBOR, where the fxamacker/cbor json-tag fallback
// yields identical field naming.
package telemetry
