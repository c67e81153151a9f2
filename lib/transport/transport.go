// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/sightglass-io/sightglass/lib/schema/collector"
	"github.com/sightglass-io/sightglass/lib/schema/telemetry"
	"github.com/sightglass-io/sightglass/lib/session"
)

// Kind classifies a transport failure for the caller's retry policy.
type Kind int

const (
	// KindRetryable covers failures an identical retry might fix:
	// timeouts, connection errors, server 5xx.
	KindRetryable Kind = iota

	// KindAuthExpired marks a request rejected for a stale token.
	// The authenticator should refresh; the payload itself is fine.
	KindAuthExpired

	// KindFatal covers failures a retry of the same request will not
	// fix: malformed requests, protocol violations, other 4xx.
	KindFatal
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindAuthExpired:
		return "auth-expired"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified transport failure.
type Error struct {
	// Kind is the retry classification.
	Kind Kind

	// Status is the HTTP status code, when one was received.
	Status int

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from an error returned by a
// Transport. Non-transport errors (context cancellation, encoding
// bugs) classify as retryable so callers never drop data over them.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindRetryable
}

// Transport is the single abstraction both the authenticator and the
// delivery queues call through. Implementations classify every
// failure as an *Error.
type Transport interface {
	// Exchange posts a token exchange request. The request itself
	// carries the credentials; no session is required.
	Exchange(ctx context.Context, request collector.TokenRequest) (collector.TokenResponse, error)

	// FetchConfig retrieves the dynamic server configuration using
	// the authenticated session.
	FetchConfig(ctx context.Context, state session.State) (collector.ServerConfig, error)

	// SendBatch delivers one serialized batch to a channel's intake
	// endpoint with authentication headers derived from state.
	SendBatch(ctx context.Context, channel telemetry.Channel, body []byte, state session.State) error
}
