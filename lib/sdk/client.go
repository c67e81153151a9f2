// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/sightglass-io/sightglass/lib/auth"
	"github.com/sightglass-io/sightglass/lib/clock"
	"github.com/sightglass-io/sightglass/lib/config"
	"github.com/sightglass-io/sightglass/lib/credential"
	"github.com/sightglass-io/sightglass/lib/delivery"
	"github.com/sightglass-io/sightglass/lib/retry"
	"github.com/sightglass-io/sightglass/lib/schema/telemetry"
	"github.com/sightglass-io/sightglass/lib/session"
	"github.com/sightglass-io/sightglass/lib/transport"
	"github.com/sightglass-io/sightglass/lib/version"
)

// Options holds the parameters for creating a [Client]. Config is
// required; everything else has a production default.
type Options struct {
	// Config is the loaded SDK configuration.
	Config *config.Config

	// Provider is the optional managed-device credential provider.
	Provider credential.ManagedProvider

	// Input collects interactive credentials when the collector
	// demands one.
	Input auth.InputProvider

	// OnComplete receives authentication flow completions.
	OnComplete func(auth.Completion)

	// HTTPClient overrides the transport's HTTP client.
	HTTPClient *http.Client

	// Clock overrides the time source. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives all SDK diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Client is one Sightglass instance: an authenticated session plus
// the three channel queues. Safe for concurrent use.
type Client struct {
	clock   clock.Clock
	logger  *slog.Logger
	session *session.Session
	auth    *auth.Authenticator

	events  *delivery.Queue[telemetry.Event]
	logs    *delivery.Queue[telemetry.LogRecord]
	metrics *delivery.Queue[telemetry.MetricPoint]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New builds a client from a validated configuration. The secondary
// delivery channel, when configured, is probed once here; ctx bounds
// that probe.
func New(ctx context.Context, options Options) (*Client, error) {
	if options.Config == nil {
		return nil, fmt.Errorf("sdk: Config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, fmt.Errorf("sdk: invalid configuration: %w", err)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transporter, err := transport.New(ctx, transport.Config{
		HTTP: transport.HTTPConfig{
			BaseURL:     options.Config.Collector.BaseURL,
			HTTPClient:  options.HTTPClient,
			Compression: transport.Compression(options.Config.Collector.Compression),
			Clock:       clk,
			Logger:      logger,
		},
		SocketPath: options.Config.Collector.SocketPath,
	})
	if err != nil {
		return nil, fmt.Errorf("sdk: building transport: %w", err)
	}

	local := options.Config.Local()
	local.LibraryVersion = version.Short()
	local.LibraryType = version.LibraryType
	resolver := &credential.Resolver{Local: local, Provider: options.Provider}

	sess := session.New(clk)
	client := &Client{
		clock:   clk,
		logger:  logger,
		session: sess,
	}

	handoff, err := options.Config.HandoffPayload()
	if err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}

	authenticator, err := auth.New(auth.Config{
		Resolver:       resolver,
		Session:        sess,
		Transport:      transporter,
		Clock:          clk,
		Logger:         logger,
		Input:          options.Input,
		Handoff:        handoff,
		OnComplete:     options.OnComplete,
		OnPolicyChange: client.applyPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}
	client.auth = authenticator

	queueConfig := delivery.Config{
		Transport:     transporter,
		Session:       sess,
		Policy:        retry.Default(),
		Clock:         clk,
		Logger:        logger,
		OnAuthExpired: authenticator.RequestRefresh,
	}

	queueConfig.Channel = telemetry.ChannelEvents
	client.events, err = delivery.NewQueue[telemetry.Event](queueConfig)
	if err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}
	queueConfig.Channel = telemetry.ChannelLogs
	client.logs, err = delivery.NewQueue[telemetry.LogRecord](queueConfig)
	if err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}
	queueConfig.Channel = telemetry.ChannelMetrics
	client.metrics, err = delivery.NewQueue[telemetry.MetricPoint](queueConfig)
	if err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}

	return client, nil
}

// applyPolicy fans the server-configured policy out to every queue.
// Each queue picks it up at its next natural timer reset.
func (c *Client) applyPolicy(policy retry.Policy) {
	c.events.SetPolicy(policy)
	c.logs.SetPolicy(policy)
	c.metrics.SetPolicy(policy)
	c.logger.Info("delivery policy updated from server config",
		"maxBatchSize", policy.MaxBatchSize,
		"nextBatchWait", policy.NextBatchWait,
	)
}

// Start launches the background loops: the refresh poll and one flush
// loop per channel. Must be called once before Shutdown; Record and
// Authenticate work before Start, but nothing flushes until the loops
// run.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("sdk: client already started")
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.auth.Run(ctx)
	go c.events.Run(ctx)
	go c.logs.Run(ctx)
	go c.metrics.Run(ctx)
	return nil
}

// Authenticate establishes the session. Blocks through the exchange's
// retry loop and any interactive step; cancel ctx to give up.
func (c *Client) Authenticate(ctx context.Context) (auth.Completion, error) {
	return c.auth.Authenticate(ctx)
}

// ReAuthenticate performs a full logout and login, for example on a
// detected user swap.
func (c *Client) ReAuthenticate(ctx context.Context) (auth.Completion, error) {
	return c.auth.ReAuthenticate(ctx)
}

// Authenticated reports whether the session is currently valid.
func (c *Client) Authenticated() bool {
	return c.auth.Authenticated()
}

// AuthState returns the authenticator's current state.
func (c *Client) AuthState() auth.State {
	return c.auth.State()
}

// RecordEvent queues a named event. Never blocks on network I/O.
func (c *Client) RecordEvent(name string, meta map[string]any) {
	c.events.Add(telemetry.Event{
		Name:      name,
		Timestamp: c.clock.Now().UnixMilli(),
		Meta:      meta,
	})
}

// RecordLog queues one log record.
func (c *Client) RecordLog(level telemetry.Severity, text string, meta map[string]any) {
	c.logs.Add(telemetry.LogRecord{
		Level:     level,
		Text:      text,
		Timestamp: c.clock.Now().UnixMilli(),
		Meta:      meta,
	})
}

// RecordMetric queues one metric point.
func (c *Client) RecordMetric(name string, value float64, meta map[string]any) {
	c.metrics.Add(telemetry.MetricPoint{
		Name:      name,
		Value:     value,
		Timestamp: c.clock.Now().UnixMilli(),
		Meta:      meta,
	})
}

// ForceFlush pushes every queue out immediately, with the straggler
// repeat, for critical moments like an assessment completing. Blocks
// until the attempts finish or ctx is cancelled.
func (c *Client) ForceFlush(ctx context.Context) {
	var group sync.WaitGroup
	for _, flush := range []func(context.Context){
		c.events.ForceFlush,
		c.logs.ForceFlush,
		c.metrics.ForceFlush,
	} {
		group.Add(1)
		go func() {
			defer group.Done()
			flush(ctx)
		}()
	}
	group.Wait()
}

// Stats returns per-channel delivery counters for debug surfaces.
func (c *Client) Stats() map[telemetry.Channel]delivery.Stats {
	return map[telemetry.Channel]delivery.Stats{
		telemetry.ChannelEvents:  c.events.Stats(),
		telemetry.ChannelLogs:    c.logs.Stats(),
		telemetry.ChannelMetrics: c.metrics.Stats(),
	}
}

// Shutdown stops the background loops and waits for each queue's
// final drain flush, bounded by ctx.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.cancel == nil {
		c.mu.Unlock()
		return fmt.Errorf("sdk: client not started")
	}
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	for _, done := range []<-chan struct{}{
		c.auth.Done(),
		c.events.Done(),
		c.logs.Done(),
		c.metrics.Done(),
	} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
