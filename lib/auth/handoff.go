// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"time"

	"github.com/sightglass-io/sightglass/lib/codec"
	"github.com/sightglass-io/sightglass/lib/schema/collector"
	"github.com/sightglass-io/sightglass/lib/session"
)

// handoffValidity is the fixed horizon granted to a session accepted
// from a launcher handoff. The payload carries no verifiable expiry,
// so the session gets a long fixed one; the launcher's own session
// lifecycle bounds the real validity.
const handoffValidity = 24 * time.Hour

// tryHandoff accepts a launcher-supplied session without a network
// round trip. Returns false when no usable handoff exists and the
// flow should proceed over the network. Accepting the same payload
// again while its session is still valid is a no-op returning the
// same session fields.
func (a *Authenticator) tryHandoff() (bool, Completion) {
	a.mu.Lock()
	payload := a.handoff
	a.mu.Unlock()
	if len(payload) == 0 {
		return false, Completion{}
	}

	if snapshot := a.session.Snapshot(); snapshot.UsedHandoff && a.session.IsValid() {
		a.setState(StateAuthenticated)
		return true, a.complete("", false, collector.TokenResponse{UserID: snapshot.UserID})
	}

	var response collector.TokenResponse
	if err := codec.Unmarshal(payload, &response); err != nil {
		a.logger.Warn("ignoring malformed session handoff", "error", err)
		return false, Completion{}
	}
	if response.Token == "" {
		a.logger.Warn("ignoring session handoff without a token")
		return false, Completion{}
	}

	a.session.Install(session.State{
		Token:              response.Token,
		Secret:             response.Secret,
		Expiry:             a.clock.Now().Add(handoffValidity),
		UserID:             response.UserID,
		UserData:           response.UserData,
		MechanismSatisfied: true,
		UsedHandoff:        true,
	})
	a.setState(StateAuthenticated)
	a.logger.Info("session accepted from launcher handoff", "userId", response.UserID)
	return true, a.complete("", false, response)
}
