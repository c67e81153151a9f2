// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sightglass-io/sightglass/lib/clock"
	"github.com/sightglass-io/sightglass/lib/codec"
	"github.com/sightglass-io/sightglass/lib/credential"
	"github.com/sightglass-io/sightglass/lib/retry"
	"github.com/sightglass-io/sightglass/lib/schema/collector"
	"github.com/sightglass-io/sightglass/lib/schema/telemetry"
	"github.com/sightglass-io/sightglass/lib/session"
	"github.com/sightglass-io/sightglass/lib/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func signedToken(t *testing.T, expiry time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": expiry.Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

// exchangeStep scripts one Exchange outcome.
type exchangeStep struct {
	response collector.TokenResponse
	err      error
}

// fakeCollector is a scripted transport. Exchange pops steps; the
// last step repeats once the script runs out.
type fakeCollector struct {
	mu        sync.Mutex
	steps     []exchangeStep
	exchanges []collector.TokenRequest

	config    collector.ServerConfig
	configErr error

	baseURL string
}

func (f *fakeCollector) script(steps ...exchangeStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = steps
}

func (f *fakeCollector) Exchange(ctx context.Context, request collector.TokenRequest) (collector.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, request)
	if len(f.steps) == 0 {
		return collector.TokenResponse{}, errors.New("no scripted response")
	}
	step := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	return step.response, step.err
}

func (f *fakeCollector) FetchConfig(ctx context.Context, state session.State) (collector.ServerConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config, f.configErr
}

func (f *fakeCollector) SendBatch(ctx context.Context, channel telemetry.Channel, body []byte, state session.State) error {
	return errors.New("not implemented")
}

func (f *fakeCollector) SetBaseURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baseURL = url
}

func (f *fakeCollector) exchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exchanges)
}

func (f *fakeCollector) lastExchange(t *testing.T) collector.TokenRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.exchanges) == 0 {
		t.Fatal("no exchange recorded")
	}
	return f.exchanges[len(f.exchanges)-1]
}

// inputStep scripts one RequestInput outcome.
type inputStep struct {
	value string
	err   error
}

type fakeInput struct {
	mu      sync.Mutex
	steps   []inputStep
	prompts []string
}

func (f *fakeInput) RequestInput(ctx context.Context, prompt string, mechanism collector.AuthMechanism) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if len(f.steps) == 0 {
		return "", errors.New("no scripted input")
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step.value, step.err
}

func (f *fakeInput) seenPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func validLocal() credential.Local {
	return credential.Local{
		AppID:      "app-1",
		OrgID:      "org-1",
		AuthSecret: "secret-1",
		DeviceID:   "device-1",
	}
}

type authFixture struct {
	auth      *Authenticator
	collector *fakeCollector
	clock     *clock.FakeClock
	session   *session.Session
	input     *fakeInput
}

func newAuthFixture(t *testing.T, configure func(*Config)) *authFixture {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sess := session.New(clk)
	fake := &fakeCollector{}
	input := &fakeInput{}
	config := Config{
		Resolver:  &credential.Resolver{Local: validLocal()},
		Session:   sess,
		Transport: fake,
		Clock:     clk,
		Logger:    testLogger(),
		Input:     input,
	}
	if configure != nil {
		configure(&config)
	}
	authenticator, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &authFixture{
		auth:      authenticator,
		collector: fake,
		clock:     clk,
		session:   sess,
		input:     input,
	}
}

func TestCleanAuthentication(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	token := signedToken(t, fixture.clock.Now().Add(time.Hour))
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{
		Token:  token,
		Secret: "sec-1",
		UserID: "user-1",
		Modules: []collector.Module{
			{ID: "b", Target: "second", Order: 2},
			{ID: "a", Target: "first", Order: 1},
		},
	}})

	completion, err := fixture.auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !completion.Success {
		t.Fatalf("completion = %+v", completion)
	}
	if completion.Reauthentication {
		t.Error("first authentication flagged as reauthentication")
	}
	if len(completion.Modules) != 2 || completion.Modules[0] != "first" || completion.Modules[1] != "second" {
		t.Errorf("modules = %v, want sorted by order", completion.Modules)
	}
	if !fixture.auth.Authenticated() {
		t.Error("session invalid after a clean flow")
	}
	if got := fixture.auth.State(); got != StateAuthenticated {
		t.Errorf("state = %v", got)
	}
	if fixture.collector.exchangeCount() != 1 {
		t.Errorf("exchange count = %d, want 1", fixture.collector.exchangeCount())
	}
}

func TestMissingCredentialsFailImmediately(t *testing.T) {
	t.Parallel()

	var completions []Completion
	fixture := newAuthFixture(t, func(config *Config) {
		config.Resolver = &credential.Resolver{Local: credential.Local{}}
		config.OnComplete = func(c Completion) { completions = append(completions, c) }
	})

	completion, err := fixture.auth.Authenticate(context.Background())
	if err == nil {
		t.Fatal("expected a credential error")
	}
	var missing *credential.MissingCredentialError
	if !errors.As(err, &missing) {
		t.Errorf("error %v is not a MissingCredentialError", err)
	}
	if completion.Success {
		t.Error("completion reported success")
	}
	if fixture.auth.State() != StateFailed {
		t.Errorf("state = %v, want failed", fixture.auth.State())
	}
	if fixture.collector.exchangeCount() != 0 {
		t.Error("configuration error reached the network")
	}
	if len(completions) != 1 || completions[0].Success {
		t.Errorf("completions = %+v", completions)
	}
}

func TestExchangeRetriesIndefinitely(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	token := signedToken(t, fixture.clock.Now().Add(time.Hour))
	fixture.collector.script(
		exchangeStep{err: &transport.Error{Kind: transport.KindRetryable, Err: errors.New("connect refused")}},
		exchangeStep{err: &transport.Error{Kind: transport.KindRetryable, Err: errors.New("timeout")}},
		exchangeStep{response: collector.TokenResponse{Token: token, Secret: "s"}},
	)

	type outcome struct {
		completion Completion
		err        error
	}
	results := make(chan outcome, 1)
	go func() {
		completion, err := fixture.auth.Authenticate(context.Background())
		results <- outcome{completion, err}
	}()

	interval := retry.Default().RetryInterval
	for range 2 {
		fixture.clock.WaitForTimers(1)
		fixture.clock.Advance(interval)
	}

	result := <-results
	if result.err != nil {
		t.Fatalf("Authenticate: %v", result.err)
	}
	if !result.completion.Success || !fixture.auth.Authenticated() {
		t.Fatalf("completion = %+v", result.completion)
	}
	if got := fixture.collector.exchangeCount(); got != 3 {
		t.Errorf("exchange count = %d, want 3", got)
	}
}

func TestUndecodableExpiryIsFatal(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{
		Token:  "not-a-jwt",
		Secret: "s",
	}})

	_, err := fixture.auth.Authenticate(context.Background())
	if err == nil {
		t.Fatal("expected a decode failure")
	}
	if fixture.auth.State() != StateFailed {
		t.Errorf("state = %v, want failed", fixture.auth.State())
	}
	if fixture.collector.exchangeCount() != 1 {
		t.Errorf("decode failure retried: %d exchanges", fixture.collector.exchangeCount())
	}
}

func TestServerConfigOverridesPolicy(t *testing.T) {
	t.Parallel()

	var pushed []retry.Policy
	fixture := newAuthFixture(t, func(config *Config) {
		config.OnPolicyChange = func(p retry.Policy) { pushed = append(pushed, p) }
	})
	token := signedToken(t, fixture.clock.Now().Add(time.Hour))
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{Token: token, Secret: "s"}})
	fixture.collector.config = collector.ServerConfig{
		RestURL:              "https://eu.collector.example.com",
		MaxBatchSize:         "25",
		NextBatchWaitSeconds: "30",
		RetainAfterSent:      "true",
	}

	if _, err := fixture.auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	policy := fixture.auth.Policy()
	if policy.MaxBatchSize != 25 {
		t.Errorf("MaxBatchSize = %d, want 25", policy.MaxBatchSize)
	}
	if policy.NextBatchWait != 30*time.Second {
		t.Errorf("NextBatchWait = %v, want 30s", policy.NextBatchWait)
	}
	if !policy.RetainAfterSent {
		t.Error("RetainAfterSent not applied")
	}
	if len(pushed) != 1 || pushed[0].MaxBatchSize != 25 {
		t.Errorf("pushed policies = %+v", pushed)
	}
	if fixture.collector.baseURL != "https://eu.collector.example.com" {
		t.Errorf("baseURL = %q, want the restUrl override", fixture.collector.baseURL)
	}
}

func TestConfigFetchFailureKeepsDefaults(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	token := signedToken(t, fixture.clock.Now().Add(time.Hour))
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{Token: token, Secret: "s"}})
	fixture.collector.configErr = &transport.Error{Kind: transport.KindFatal, Err: errors.New("no config")}

	type outcome struct {
		completion Completion
		err        error
	}
	results := make(chan outcome, 1)
	go func() {
		completion, err := fixture.auth.Authenticate(context.Background())
		results <- outcome{completion, err}
	}()

	interval := retry.Default().RetryInterval
	for range retry.Default().MaxRetriesOnFailure {
		fixture.clock.WaitForTimers(1)
		fixture.clock.Advance(interval)
	}

	result := <-results
	if result.err != nil {
		t.Fatalf("Authenticate must tolerate a failed config fetch: %v", result.err)
	}
	if !result.completion.Success || !fixture.auth.Authenticated() {
		t.Fatalf("completion = %+v", result.completion)
	}
	if got := fixture.auth.Policy(); got != retry.Default() {
		t.Errorf("policy = %+v, want defaults", got)
	}
}

func TestInteractivePinRetry(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	now := fixture.clock.Now()
	baseToken := signedToken(t, now.Add(time.Hour))
	finalToken := signedToken(t, now.Add(2*time.Hour))
	fixture.collector.script(
		exchangeStep{response: collector.TokenResponse{Token: baseToken, Secret: "s"}},
		exchangeStep{err: &transport.Error{Kind: transport.KindFatal, Status: 403, Err: errors.New("wrong pin")}},
		exchangeStep{response: collector.TokenResponse{Token: finalToken, Secret: "s2", UserID: "user-7"}},
	)
	fixture.collector.config = collector.ServerConfig{
		AuthMechanism: &collector.AuthMechanism{Type: "assessmentPin", Prompt: "Enter PIN"},
	}
	fixture.input.steps = []inputStep{
		{value: "000000"},
		{value: "424242"},
	}

	completion, err := fixture.auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !completion.Success {
		t.Fatalf("completion = %+v", completion)
	}

	prompts := fixture.input.seenPrompts()
	if len(prompts) != 2 {
		t.Fatalf("prompts = %q", prompts)
	}
	if prompts[0] != "Enter PIN" {
		t.Errorf("first prompt = %q", prompts[0])
	}
	if prompts[1] != "Authentication Failed (1)\nEnter PIN" {
		t.Errorf("retry prompt = %q", prompts[1])
	}

	snapshot := fixture.session.Snapshot()
	if snapshot.UserData["text"] != "424242" {
		t.Errorf("entered value not recorded: %+v", snapshot.UserData)
	}
	if !fixture.session.IsValid() {
		t.Error("session invalid after interactive success")
	}
	request := fixture.collector.lastExchange(t)
	if request.AuthMechanism == nil || request.AuthMechanism.InputSource != "424242" {
		t.Errorf("final exchange mechanism = %+v", request.AuthMechanism)
	}
}

func TestInteractiveCompletionCarriesFinalIdentity(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	now := fixture.clock.Now()
	// The base exchange establishes no user; only the accepted
	// interactive exchange carries the identity and module list.
	fixture.collector.script(
		exchangeStep{response: collector.TokenResponse{Token: signedToken(t, now.Add(time.Hour)), Secret: "s"}},
		exchangeStep{err: &transport.Error{Kind: transport.KindFatal, Status: 403, Err: errors.New("wrong pin")}},
		exchangeStep{response: collector.TokenResponse{
			Token:  signedToken(t, now.Add(2*time.Hour)),
			Secret: "s2",
			UserID: "user-7",
			Modules: []collector.Module{
				{ID: "m1", Name: "Gaze", Target: "gaze", Order: 1},
			},
		}},
	)
	fixture.collector.config = collector.ServerConfig{
		AuthMechanism: &collector.AuthMechanism{Type: "assessmentPin", Prompt: "Enter PIN"},
	}
	fixture.input.steps = []inputStep{
		{value: "000000"},
		{value: "424242"},
	}

	completion, err := fixture.auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !completion.Success {
		t.Fatalf("completion = %+v", completion)
	}
	if completion.UserID != "user-7" {
		t.Errorf("completion user = %q, want %q", completion.UserID, "user-7")
	}
	if len(completion.Modules) != 1 || completion.Modules[0] != "gaze" {
		t.Errorf("completion modules = %v, want [gaze]", completion.Modules)
	}
	if got := fixture.session.Snapshot().UserID; got != "user-7" {
		t.Errorf("session user = %q, want %q", got, "user-7")
	}
}

func TestInteractiveInvalidInputDoesNotCount(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	now := fixture.clock.Now()
	fixture.collector.script(
		exchangeStep{response: collector.TokenResponse{Token: signedToken(t, now.Add(time.Hour)), Secret: "s"}},
		exchangeStep{response: collector.TokenResponse{Token: signedToken(t, now.Add(2*time.Hour)), Secret: "s2"}},
	)
	fixture.collector.config = collector.ServerConfig{
		AuthMechanism: &collector.AuthMechanism{Type: "qrCode", Prompt: "Scan the code"},
	}
	fixture.input.steps = []inputStep{
		{err: ErrInvalidInput},
		{value: "scanned-ok"},
	}

	if _, err := fixture.auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	prompts := fixture.input.seenPrompts()
	if len(prompts) != 2 {
		t.Fatalf("prompts = %q", prompts)
	}
	if prompts[1] != "Invalid QR Code\nScan the code" {
		t.Errorf("re-prompt = %q", prompts[1])
	}
}

func TestInteractiveSessionInvalidUntilMechanismSatisfied(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	now := fixture.clock.Now()
	fixture.collector.script(
		exchangeStep{response: collector.TokenResponse{Token: signedToken(t, now.Add(time.Hour)), Secret: "s"}},
		exchangeStep{response: collector.TokenResponse{Token: signedToken(t, now.Add(2*time.Hour)), Secret: "s2"}},
	)
	fixture.collector.config = collector.ServerConfig{
		AuthMechanism: &collector.AuthMechanism{Type: "email", Prompt: "Work email", Domain: "example.com"},
	}

	invalidDuringPrompt := make(chan bool, 1)
	fixture.input.steps = []inputStep{{value: "jordan"}}
	originalInput := fixture.input
	fixture.auth.input = inputFunc(func(ctx context.Context, prompt string, mechanism collector.AuthMechanism) (string, error) {
		invalidDuringPrompt <- fixture.session.IsValid()
		return originalInput.RequestInput(ctx, prompt, mechanism)
	})

	if _, err := fixture.auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if <-invalidDuringPrompt {
		t.Error("session was valid while the interactive step was pending")
	}

	snapshot := fixture.session.Snapshot()
	if snapshot.UserData["email"] != "jordan@example.com" {
		t.Errorf("email not composed with the mechanism domain: %+v", snapshot.UserData)
	}
}

type inputFunc func(ctx context.Context, prompt string, mechanism collector.AuthMechanism) (string, error)

func (f inputFunc) RequestInput(ctx context.Context, prompt string, mechanism collector.AuthMechanism) (string, error) {
	return f(ctx, prompt, mechanism)
}

func TestHandoffIdempotence(t *testing.T) {
	t.Parallel()

	payload, err := codec.Marshal(collector.TokenResponse{
		Token:  "handoff-token",
		Secret: "handoff-secret",
		UserID: "user-h",
	})
	if err != nil {
		t.Fatalf("encoding handoff: %v", err)
	}
	fixture := newAuthFixture(t, func(config *Config) {
		config.Handoff = payload
	})

	first, err := fixture.auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !first.Success || first.UserID != "user-h" {
		t.Fatalf("completion = %+v", first)
	}
	state := fixture.session.Snapshot()
	if !state.UsedHandoff {
		t.Error("session not marked as handoff")
	}
	wantExpiry := fixture.clock.Now().Add(24 * time.Hour)
	if !state.Expiry.Equal(wantExpiry) {
		t.Errorf("expiry = %v, want %v", state.Expiry, wantExpiry)
	}

	second, err := fixture.auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}
	if !second.Success {
		t.Fatalf("second completion = %+v", second)
	}
	again := fixture.session.Snapshot()
	if again.Token != state.Token || again.Secret != state.Secret || !again.Expiry.Equal(state.Expiry) {
		t.Errorf("second acceptance changed the session: %+v vs %+v", again, state)
	}
	if fixture.collector.exchangeCount() != 0 {
		t.Errorf("handoff made %d network calls", fixture.collector.exchangeCount())
	}
}

func TestReAuthenticateClearsSessionAndHandoff(t *testing.T) {
	t.Parallel()

	payload, err := codec.Marshal(collector.TokenResponse{Token: "handoff-token", Secret: "hs"})
	if err != nil {
		t.Fatalf("encoding handoff: %v", err)
	}
	fixture := newAuthFixture(t, func(config *Config) {
		config.Handoff = payload
	})
	if _, err := fixture.auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	token := signedToken(t, fixture.clock.Now().Add(time.Hour))
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{Token: token, Secret: "fresh"}})

	completion, err := fixture.auth.ReAuthenticate(context.Background())
	if err != nil {
		t.Fatalf("ReAuthenticate: %v", err)
	}
	if !completion.Success {
		t.Fatalf("completion = %+v", completion)
	}
	if !completion.Reauthentication {
		t.Error("reauthentication not flagged")
	}
	state := fixture.session.Snapshot()
	if state.UsedHandoff || state.Secret != "fresh" {
		t.Errorf("handoff survived reauthentication: %+v", state)
	}
	if fixture.collector.exchangeCount() != 1 {
		t.Errorf("exchange count = %d, want 1", fixture.collector.exchangeCount())
	}
}

func TestConcurrentAuthenticateCoalesces(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	token := signedToken(t, fixture.clock.Now().Add(time.Hour))

	release := make(chan struct{})
	gate := &gatedTransport{inner: fixture.collector, release: release}
	fixture.auth.transport = gate
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{Token: token, Secret: "s"}})

	results := make(chan Completion, 2)
	go func() {
		completion, _ := fixture.auth.Authenticate(context.Background())
		results <- completion
	}()

	// The first caller is blocked inside the exchange and holds the
	// flight; the second joins it.
	gate.waitForCall(t)
	go func() {
		completion, _ := fixture.auth.Authenticate(context.Background())
		results <- completion
	}()
	time.Sleep(100 * time.Millisecond)
	close(release)

	for range 2 {
		completion := <-results
		if !completion.Success {
			t.Errorf("completion = %+v", completion)
		}
	}
	if got := fixture.collector.exchangeCount(); got != 1 {
		t.Errorf("exchange count = %d, want 1 coalesced flow", got)
	}
}

// gatedTransport blocks the first Exchange call until released.
type gatedTransport struct {
	inner   transport.Transport
	release <-chan struct{}
	once    sync.Once
	entered chan struct{}
}

func (g *gatedTransport) waitForCall(t *testing.T) {
	t.Helper()
	g.ensure()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no exchange call arrived")
	}
}

func (g *gatedTransport) ensure() {
	g.once.Do(func() { g.entered = make(chan struct{}, 1) })
}

func (g *gatedTransport) Exchange(ctx context.Context, request collector.TokenRequest) (collector.TokenResponse, error) {
	g.ensure()
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.inner.Exchange(ctx, request)
}

func (g *gatedTransport) FetchConfig(ctx context.Context, state session.State) (collector.ServerConfig, error) {
	return g.inner.FetchConfig(ctx, state)
}

func (g *gatedTransport) SendBatch(ctx context.Context, channel telemetry.Channel, body []byte, state session.State) error {
	return g.inner.SendBatch(ctx, channel, body, state)
}

func TestRefreshWindowTriggersSilentReExchange(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	now := fixture.clock.Now()
	firstToken := signedToken(t, now.Add(90*time.Second))
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{
		Token:  firstToken,
		Secret: "s1",
	}})
	if _, err := fixture.auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	refreshedToken := signedToken(t, now.Add(time.Hour))
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{
		Token:  refreshedToken,
		Secret: "s2",
	}})

	polled := make(chan struct{}, 16)
	fixture.auth.afterPoll = func() { polled <- struct{}{} }
	ctx, cancel := context.WithCancel(context.Background())
	go fixture.auth.Run(ctx)
	fixture.clock.WaitForTimers(1)
	t.Cleanup(func() {
		cancel()
		<-fixture.auth.Done()
	})

	// One poll tick: 90s remaining is inside the two minute window,
	// so the loop re-exchanges without clearing the session.
	fixture.clock.Advance(time.Minute)
	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh loop never polled")
	}

	state := fixture.session.Snapshot()
	if state.Secret != "s2" {
		t.Errorf("session not refreshed: %+v", state)
	}
	if !fixture.session.IsValid() {
		t.Error("session invalid after refresh")
	}
	if got := fixture.collector.exchangeCount(); got != 2 {
		t.Errorf("exchange count = %d, want 2", got)
	}
}

func TestRequestRefreshTriggersImmediateExchange(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	now := fixture.clock.Now()
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{
		Token:  signedToken(t, now.Add(time.Hour)),
		Secret: "s1",
	}})
	if _, err := fixture.auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	fixture.collector.script(exchangeStep{response: collector.TokenResponse{
		Token:  signedToken(t, now.Add(2*time.Hour)),
		Secret: "s2",
	}})

	polled := make(chan struct{}, 16)
	fixture.auth.afterPoll = func() { polled <- struct{}{} }
	ctx, cancel := context.WithCancel(context.Background())
	go fixture.auth.Run(ctx)
	fixture.clock.WaitForTimers(1)
	t.Cleanup(func() {
		cancel()
		<-fixture.auth.Done()
	})

	fixture.auth.RequestRefresh()
	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh request never handled")
	}

	if state := fixture.session.Snapshot(); state.Secret != "s2" {
		t.Errorf("session not refreshed on request: %+v", state)
	}
}

func TestRefreshFailureKeepsOldToken(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, nil)
	now := fixture.clock.Now()
	fixture.collector.script(exchangeStep{response: collector.TokenResponse{
		Token:  signedToken(t, now.Add(90*time.Second)),
		Secret: "s1",
	}})
	if _, err := fixture.auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	fixture.collector.script(exchangeStep{err: fmt.Errorf("collector offline")})

	polled := make(chan struct{}, 16)
	fixture.auth.afterPoll = func() { polled <- struct{}{} }
	ctx, cancel := context.WithCancel(context.Background())
	go fixture.auth.Run(ctx)
	fixture.clock.WaitForTimers(1)
	t.Cleanup(func() {
		cancel()
		<-fixture.auth.Done()
	})

	fixture.clock.Advance(time.Minute)
	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh loop never polled")
	}

	if state := fixture.session.Snapshot(); state.Secret != "s1" {
		t.Errorf("failed refresh altered the session: %+v", state)
	}
	if !fixture.session.IsValid() {
		t.Error("old token must stay usable until its real expiry")
	}
	if fixture.auth.State() != StateAuthenticated {
		t.Errorf("state = %v, want authenticated", fixture.auth.State())
	}
}
