// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the authenticated session state: bearer
// token, request secret, expiry, and user identity.
//
// The Session is written only by the authenticator and read
// concurrently by every delivery queue (to gate flushing) and by the
// host. Reads return a consistent snapshot; during a silent refresh
// the old token remains readable and usable until the new one is
// installed, so delivery never stalls across a refresh.
package session
