// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package sdk is the host-facing surface of Sightglass. A Client owns
// the authenticator, the session, and one delivery queue per
// telemetry channel (events, logs, metrics), and wires them together:
// authentication gates delivery, stale-token rejections trigger a
// silent refresh, and the collector's server configuration fans out
// to every queue.
//
// Hosts construct a Client from a loaded configuration, call Start to
// launch the background loops, Authenticate to establish the session,
// and the Record methods from any goroutine. Shutdown drains the
// queues best-effort before returning.
package sdk
