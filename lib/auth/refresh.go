// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"time"
)

// refreshPollInterval is how often the refresh loop inspects the
// session's remaining validity.
const refreshPollInterval = time.Minute

// refreshWindow is the remaining validity at which the loop starts a
// silent re-exchange. Two minutes leaves room for one slow round
// trip plus a retry before the token actually lapses.
const refreshWindow = 2 * time.Minute

// Run starts the refresh poll. Blocks until ctx is cancelled. The
// poll silently re-exchanges the credentials when the session enters
// the refresh window, without clearing the session first, so
// delivery keeps flowing on the old token until the new one lands.
//
// Must be called exactly once per authenticator.
func (a *Authenticator) Run(ctx context.Context) {
	defer close(a.done)

	ticker := a.clock.NewTicker(refreshPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if a.inRefreshWindow() {
				a.refresh(ctx)
			}
		case <-a.refreshRequests:
			a.refresh(ctx)
		case <-ctx.Done():
			return
		}
		if a.afterPoll != nil {
			a.afterPoll()
		}
	}
}

// Done returns a channel that is closed after Run has exited.
func (a *Authenticator) Done() <-chan struct{} {
	return a.done
}

func (a *Authenticator) inRefreshWindow() bool {
	snapshot := a.session.Snapshot()
	return snapshot.Token != "" && a.session.TimeToExpiry() <= refreshWindow
}

// refresh performs one silent single-shot re-exchange. Failures are
// logged and left for the next poll; the old token keeps working
// until its real expiry.
func (a *Authenticator) refresh(ctx context.Context) {
	a.mu.Lock()
	if a.flight != nil {
		// An explicit flow is running; it will install a fresh
		// session itself.
		a.mu.Unlock()
		return
	}
	current := &flight{done: make(chan struct{})}
	a.flight = current
	creds, resolved := a.creds, a.credsResolved
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.flight = nil
		a.mu.Unlock()
		close(current.done)
	}()

	if !resolved {
		var err error
		creds, err = a.resolver.Resolve()
		if err != nil {
			a.logger.Warn("token refresh skipped, credentials unavailable", "error", err)
			return
		}
		a.rememberCredentials(creds)
	}

	a.setState(StateExpiring)
	response, err := a.exchangeOnce(ctx, a.baseRequest(creds))
	if err != nil {
		a.logger.Warn("silent token refresh failed", "error", err)
		a.setState(StateAuthenticated)
		return
	}
	state, err := a.sessionState(response)
	if err != nil {
		a.logger.Warn("silent token refresh failed", "error", err)
		a.setState(StateAuthenticated)
		return
	}

	// Carry forward user data the interactive step recorded; the
	// refresh response wins where both have a key.
	previous := a.session.Snapshot()
	if len(previous.UserData) > 0 {
		merged := make(map[string]any, len(previous.UserData)+len(state.UserData))
		for key, value := range previous.UserData {
			merged[key] = value
		}
		for key, value := range state.UserData {
			merged[key] = value
		}
		state.UserData = merged
	}
	a.session.Install(state)
	a.setState(StateAuthenticated)
	current.completion = Completion{Success: true, Reauthentication: true, UserID: state.UserID}
	a.logger.Info("session token refreshed", "expiry", state.Expiry)
}
