// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the SDK's CBOR codec.
//
// CBOR is the wire format for the device-resident secondary channel
// (the socket protocol in lib/transport) and for launcher handoff
// payloads. The encoder is pinned to Core Deterministic Encoding so
// the same logical payload always produces identical bytes; the
// transport's integrity hash depends on that.
//
// Consumers import only this package, never fxamacker/cbor directly.
package codec
