// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the authentication state machine: credential
// exchange against the collector, dynamic server configuration, the
// optional interactive step the server may demand, proactive token
// refresh ahead of expiry, and session handoff from a cooperating
// launcher process.
//
// The Authenticator exclusively owns its session's mutations. Delivery
// queues read the session and never write it. One authentication flow
// runs at a time; concurrent Authenticate callers wait for the
// in-flight attempt and observe its result.
package auth
