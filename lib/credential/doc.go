// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential resolves the identity the SDK authenticates
// with: application credentials from local configuration, overlaid
// with values from an optional managed-device provider.
//
// Resolution is deterministic and side-effect-free beyond reading its
// collaborators: no retries, no network. A resolution failure is a
// configuration error; the authenticator surfaces it to the host
// without ever touching the network.
//
// Credentials are an immutable snapshot. If a managed-device provider
// connects after the initial resolution, the caller re-resolves and
// replaces the snapshot; nothing mutates in place.
package credential
