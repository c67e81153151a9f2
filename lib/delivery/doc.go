// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery implements the batching retry queue behind every
// telemetry channel. A Queue accumulates records in memory, flushes
// them as one batch on a timer or when the batch size threshold is
// reached, and re-queues failed batches ahead of newer records so
// that delivery stays in insertion order.
//
// Sending is gated on session validity: a queue holding records for
// an unauthenticated session keeps accepting Add calls and simply
// does not flush until the session becomes valid. Records are only
// ever dropped by the pruning limits, and every prune is logged.
package delivery
