// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport sends the SDK's authenticated requests: the token
// exchange, the server configuration fetch, and per-channel batch
// delivery.
//
// Two implementations exist. HTTP talks to the collector directly and
// is always available. Socket delegates to the device-resident
// secondary service over a Unix socket speaking the CBOR protocol,
// falling back to HTTP call-by-call when the service misbehaves. A
// factory probes the secondary channel once at startup and picks the
// implementation, so business logic never branches on platform.
//
// Failures are classified: KindRetryable for anything a later
// identical retry might fix (timeouts, connection errors, 5xx),
// KindAuthExpired for a rejected token (the authenticator should
// refresh), KindFatal for everything else (malformed requests,
// protocol violations). Fatal means "a differently-shaped retry won't
// help", not "discard"; the delivery queue re-queues fatal batches
// like any other failure.
package transport
