// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package auth

// State is the authenticator's position in the authentication flow.
// Observable via [Authenticator.State]; transitions are driven only
// by the authenticator itself.
type State int32

const (
	// StateIdle is the initial state before the first Authenticate
	// call.
	StateIdle State = iota

	// StateAuthenticating covers the base credential exchange,
	// including its indefinite retry loop.
	StateAuthenticating

	// StateAwaitingInput means the server demanded an interactive
	// credential and the flow is suspended on the host's input
	// provider.
	StateAwaitingInput

	// StateAuthenticated means the session is populated and the
	// refresh loop is watching its expiry.
	StateAuthenticated

	// StateExpiring covers the silent re-exchange inside the refresh
	// window. The session stays valid on the old token throughout.
	StateExpiring

	// StateReauthenticating covers an explicit ReAuthenticate flow,
	// which starts from a cleared session.
	StateReauthenticating

	// StateFailed means the last flow ended in an unrecoverable
	// failure. ReAuthenticate can leave it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateAwaitingInput:
		return "awaiting-input"
	case StateAuthenticated:
		return "authenticated"
	case StateExpiring:
		return "expiring"
	case StateReauthenticating:
		return "reauthenticating"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
