// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sightglass-io/sightglass/lib/clock"
	"github.com/sightglass-io/sightglass/lib/credential"
	"github.com/sightglass-io/sightglass/lib/retry"
	"github.com/sightglass-io/sightglass/lib/schema/collector"
	"github.com/sightglass-io/sightglass/lib/session"
	"github.com/sightglass-io/sightglass/lib/transport"
)

// Completion is the result delivered to the host when an
// authentication flow ends, successfully or not.
type Completion struct {
	// Success reports whether the session is now valid.
	Success bool

	// Error carries the failure description when Success is false.
	Error string

	// Reauthentication is true when the process has been
	// authenticated before, letting hosts distinguish restoring
	// their UI from initializing it.
	Reauthentication bool

	// UserID is the authenticated user, when known.
	UserID string

	// Modules lists the collector-assigned module targets in
	// ascending order.
	Modules []string
}

// Config holds the parameters for creating an [Authenticator].
// Resolver, Session, Transport, Clock, and Logger are required.
type Config struct {
	// Resolver supplies credential snapshots.
	Resolver *credential.Resolver

	// Session is the session holder this authenticator owns. Only
	// the authenticator mutates it.
	Session *session.Session

	// Transport performs the network exchanges.
	Transport transport.Transport

	// Policy supplies retry timing. The zero value means
	// retry.Default(); the collector's server configuration
	// overrides it after the first successful exchange.
	Policy retry.Policy

	// Clock drives retry waits and the refresh poll.
	Clock clock.Clock

	// Logger receives state transitions and failure diagnostics.
	Logger *slog.Logger

	// Input collects interactive credentials when the server demands
	// one. Optional; a flow that needs it and lacks it fails.
	Input InputProvider

	// Handoff is a serialized, pre-validated token response supplied
	// by a launcher process. When present and well formed it is
	// trusted without a network round trip.
	Handoff []byte

	// OnComplete, when set, receives every flow completion. Called
	// from the authenticating goroutine.
	OnComplete func(Completion)

	// OnPolicyChange, when set, receives the effective policy after
	// the server configuration is applied. The SDK uses it to push
	// new cadence limits into the delivery queues.
	OnPolicyChange func(retry.Policy)
}

// flight is one in-progress authentication flow. Concurrent callers
// block on done and share its result.
type flight struct {
	done       chan struct{}
	completion Completion
	err        error
}

// Authenticator drives the authentication state machine. Safe for
// concurrent use; at most one flow runs at a time.
//
// Lifecycle: call [Authenticator.Run] in a goroutine to start the
// refresh poll, then cancel the context to stop it.
type Authenticator struct {
	resolver       *credential.Resolver
	session        *session.Session
	transport      transport.Transport
	clock          clock.Clock
	logger         *slog.Logger
	input          InputProvider
	onComplete     func(Completion)
	onPolicyChange func(retry.Policy)

	state atomic.Int32

	mu                  sync.Mutex
	policy              retry.Policy
	handoff             []byte
	flight              *flight
	creds               credential.Credentials
	credsResolved       bool
	authenticatedBefore bool

	refreshRequests chan struct{}
	done            chan struct{}

	// afterPoll, when non-nil, runs at the end of each refresh loop
	// cycle. Tests use it to synchronize with the poll.
	afterPoll func()
}

// New creates an authenticator over an empty session.
func New(config Config) (*Authenticator, error) {
	if config.Resolver == nil {
		return nil, fmt.Errorf("authenticator: Resolver is required")
	}
	if config.Session == nil {
		return nil, fmt.Errorf("authenticator: Session is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("authenticator: Transport is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("authenticator: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("authenticator: Logger is required")
	}
	policy := config.Policy
	if policy == (retry.Policy{}) {
		policy = retry.Default()
	}

	return &Authenticator{
		resolver:        config.Resolver,
		session:         config.Session,
		transport:       config.Transport,
		clock:           config.Clock,
		logger:          config.Logger,
		input:           config.Input,
		onComplete:      config.OnComplete,
		onPolicyChange:  config.OnPolicyChange,
		policy:          policy,
		handoff:         config.Handoff,
		refreshRequests: make(chan struct{}, 1),
		done:            make(chan struct{}),
	}, nil
}

// State returns the authenticator's current position in the flow.
func (a *Authenticator) State() State {
	return State(a.state.Load())
}

// Authenticated reports whether the session is currently valid.
func (a *Authenticator) Authenticated() bool {
	return a.session.IsValid()
}

// Policy returns the effective retry policy: the construction-time
// defaults until the server configuration lands, the overridden
// policy afterwards.
func (a *Authenticator) Policy() retry.Policy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy
}

// Authenticate runs the authentication flow: handoff shortcut if one
// is configured, otherwise credential resolution, token exchange
// (retrying indefinitely on transient failures), server
// configuration, and the interactive step when the server demands
// one. If a flow is already in flight the call waits for it and
// returns its result.
func (a *Authenticator) Authenticate(ctx context.Context) (Completion, error) {
	return a.coalesced(ctx, false)
}

// ReAuthenticate is a full logout and login: the session, the stored
// handoff, and the interactive failure counters are discarded before
// the flow restarts from scratch. Distinct from the silent refresh,
// which keeps the old token live until the new one lands.
func (a *Authenticator) ReAuthenticate(ctx context.Context) (Completion, error) {
	a.mu.Lock()
	a.handoff = nil
	a.mu.Unlock()
	a.session.Clear()
	return a.coalesced(ctx, true)
}

// RequestRefresh asks the refresh loop for an immediate silent
// re-exchange. Non-blocking; delivery queues call it when a send
// comes back with a stale-token rejection.
func (a *Authenticator) RequestRefresh() {
	select {
	case a.refreshRequests <- struct{}{}:
	default:
	}
}

func (a *Authenticator) coalesced(ctx context.Context, reauth bool) (Completion, error) {
	a.mu.Lock()
	if inFlight := a.flight; inFlight != nil {
		a.mu.Unlock()
		select {
		case <-inFlight.done:
			return inFlight.completion, inFlight.err
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}
	current := &flight{done: make(chan struct{})}
	a.flight = current
	a.mu.Unlock()

	completion, err := a.run(ctx, reauth)
	current.completion, current.err = completion, err

	a.mu.Lock()
	a.flight = nil
	a.mu.Unlock()
	close(current.done)
	return completion, err
}

// run is one full authentication flow. The caller holds the flight
// slot.
func (a *Authenticator) run(ctx context.Context, reauth bool) (Completion, error) {
	if reauth {
		a.setState(StateReauthenticating)
	} else {
		a.setState(StateAuthenticating)
	}

	if !reauth {
		if accepted, completion := a.tryHandoff(); accepted {
			return completion, nil
		}
	}

	creds, err := a.resolver.Resolve()
	if err != nil {
		return a.fail(reauth, fmt.Errorf("resolving credentials: %w", err))
	}
	a.rememberCredentials(creds)

	response, err := a.exchange(ctx, a.baseRequest(creds))
	if err != nil {
		return a.fail(reauth, err)
	}
	state, err := a.sessionState(response)
	if err != nil {
		return a.fail(reauth, err)
	}
	a.session.Install(state)

	mechanism := a.applyServerConfig(ctx, state)
	if mechanism != nil && mechanism.Required() {
		pending := state
		pending.MechanismSatisfied = false
		a.session.Install(pending)
		a.setState(StateAwaitingInput)
		accepted, err := a.interactive(ctx, creds, *mechanism)
		if err != nil {
			return a.fail(reauth, err)
		}
		// The interactive exchange, not the base one, establishes the
		// user identity and module list the completion reports.
		response = accepted
	}

	a.setState(StateAuthenticated)
	return a.complete("", reauth, response), nil
}

// complete marks the session authenticated and notifies the host.
func (a *Authenticator) complete(errText string, reauth bool, response collector.TokenResponse) Completion {
	a.mu.Lock()
	reauth = reauth || a.authenticatedBefore
	a.authenticatedBefore = true
	a.mu.Unlock()

	completion := Completion{
		Success:          true,
		Error:            errText,
		Reauthentication: reauth,
		UserID:           response.UserID,
		Modules:          moduleTargets(response.Modules),
	}
	if a.onComplete != nil {
		a.onComplete(completion)
	}
	return completion
}

// fail reports an unrecoverable flow failure and parks the machine in
// StateFailed. ReAuthenticate can leave it.
func (a *Authenticator) fail(reauth bool, err error) (Completion, error) {
	a.setState(StateFailed)
	a.logger.Error("authentication failed", "error", err)

	a.mu.Lock()
	reauth = reauth || a.authenticatedBefore
	a.mu.Unlock()

	completion := Completion{
		Success:          false,
		Error:            err.Error(),
		Reauthentication: reauth,
	}
	if a.onComplete != nil {
		a.onComplete(completion)
	}
	return completion, err
}

func (a *Authenticator) rememberCredentials(creds credential.Credentials) {
	a.mu.Lock()
	a.creds = creds
	a.credsResolved = true
	a.mu.Unlock()
}

func (a *Authenticator) setState(next State) {
	previous := State(a.state.Swap(int32(next)))
	if previous != next {
		a.logger.Debug("authentication state changed",
			"from", previous,
			"to", next,
		)
	}
}

// moduleTargets flattens the collector's module list into its target
// names, ascending by the server-assigned order.
func moduleTargets(modules []collector.Module) []string {
	if len(modules) == 0 {
		return nil
	}
	sorted := append([]collector.Module(nil), modules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	targets := make([]string, len(sorted))
	for i, module := range sorted {
		targets[i] = module.Target
	}
	return targets
}
