// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/sightglass-io/sightglass/lib/clock"
)

// State is one immutable view of the session. The zero State is the
// unauthenticated state.
type State struct {
	// Token is the session bearer token.
	Token string

	// Secret keys the per-request integrity hash.
	Secret string

	// Expiry is the absolute time the token stops being valid.
	Expiry time.Time

	// UserID is the authenticated user, when the collector returned
	// one.
	UserID string

	// UserData carries collector- and host-supplied user attributes
	// (including interactive values recorded under "email" or
	// "text").
	UserData map[string]any

	// MechanismSatisfied is true when the server-demanded interactive
	// step succeeded, or when none was required. A session with a
	// pending interactive step holds a token but is not yet valid.
	MechanismSatisfied bool

	// UsedHandoff marks a session accepted from a launcher handoff
	// rather than a network exchange.
	UsedHandoff bool
}

// Session is the shared session holder. Construct with New; the
// authenticator installs and clears state, everything else reads.
type Session struct {
	clock clock.Clock

	mu    sync.Mutex
	state State
}

// New returns an empty (invalid) session reading time from clk.
func New(clk clock.Clock) *Session {
	return &Session{clock: clk}
}

// Install replaces the session state wholesale. Used on exchange
// success, handoff acceptance, and silent refresh; the replacement
// is atomic from a reader's point of view.
func (s *Session) Install(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Clear resets to the unauthenticated state. IsValid is false the
// instant Clear returns.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsValid reports whether the session can authenticate requests:
// token and secret present, not expired, interactive step satisfied.
func (s *Session) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token != "" &&
		s.state.Secret != "" &&
		s.state.MechanismSatisfied &&
		!s.clock.Now().After(s.state.Expiry)
}

// TimeToExpiry returns the remaining validity. Negative once expired;
// zero for an empty session.
func (s *Session) TimeToExpiry() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Token == "" {
		return 0
	}
	return s.state.Expiry.Sub(s.clock.Now())
}

// PutUserData records a user attribute on the current state (e.g. the
// interactive "email" or "text" value). No-op on an empty session.
func (s *Session) PutUserData(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Token == "" {
		return
	}
	if s.state.UserData == nil {
		s.state.UserData = make(map[string]any)
	}
	s.state.UserData[key] = value
}
