// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sightglass-io/sightglass/lib/credential"
	"github.com/sightglass-io/sightglass/lib/schema/collector"
)

// ErrInvalidInput is returned by an InputProvider when the collected
// value failed the mechanism's own validation (a malformed scanned
// code, for example). The flow re-prompts without counting it as a
// rejected exchange.
var ErrInvalidInput = errors.New("auth: invalid interactive input")

// InputProvider collects an interactive credential from the host,
// typically through UI. The wait is unbounded: the flow stays
// suspended until the provider returns or ctx is cancelled.
type InputProvider interface {
	// RequestInput shows the prompt and returns the entered value.
	// Return ErrInvalidInput for a value the mechanism itself
	// rejected; any other error aborts the flow.
	RequestInput(ctx context.Context, prompt string, mechanism collector.AuthMechanism) (string, error)
}

// mechanismTypeEmail gets its entered value pre-composed with the
// mechanism's domain and recorded under the "email" user data key.
const mechanismTypeEmail = "email"

// interactive collects the server-demanded credential and resends the
// exchange with it, single-shot, until the server accepts. A rejected
// exchange re-prompts with an incremented failure counter in the
// prompt; an invalid input re-prompts without incrementing. Returns
// the accepted exchange response: it carries the user identity and
// module list the base exchange did not have.
func (a *Authenticator) interactive(ctx context.Context, creds credential.Credentials, mechanism collector.AuthMechanism) (collector.TokenResponse, error) {
	if a.input == nil {
		return collector.TokenResponse{}, fmt.Errorf("server demands interactive %q input but no input provider is configured", mechanism.Type)
	}

	failures := 0
	prefix := ""
	for {
		value, err := a.input.RequestInput(ctx, prefix+mechanism.Prompt, mechanism)
		if errors.Is(err, ErrInvalidInput) {
			prefix = "Invalid QR Code\n"
			continue
		}
		if err != nil {
			return collector.TokenResponse{}, fmt.Errorf("interactive input: %w", err)
		}
		value = composeEmail(mechanism, value)

		request := a.baseRequest(creds)
		request.AuthMechanism = &collector.AuthMechanism{
			Type:        mechanism.Type,
			InputSource: value,
		}
		response, err := a.exchangeOnce(ctx, request)
		if err != nil {
			if ctx.Err() != nil {
				return collector.TokenResponse{}, fmt.Errorf("interactive exchange: %w", ctx.Err())
			}
			failures++
			prefix = fmt.Sprintf("Authentication Failed (%d)\n", failures)
			a.logger.Warn("interactive exchange rejected",
				"mechanism", mechanism.Type,
				"failures", failures,
				"error", err,
			)
			continue
		}

		state, err := a.sessionState(response)
		if err != nil {
			return collector.TokenResponse{}, err
		}
		if state.UserData == nil {
			state.UserData = make(map[string]any)
		}
		key := "text"
		if mechanism.Type == mechanismTypeEmail {
			key = "email"
		}
		state.UserData[key] = value
		a.session.Install(state)
		return response, nil
	}
}

// composeEmail joins a bare local part with the mechanism's domain.
// Values already carrying an @ pass through.
func composeEmail(mechanism collector.AuthMechanism, value string) string {
	if mechanism.Type != mechanismTypeEmail || mechanism.Domain == "" {
		return value
	}
	if strings.Contains(value, "@") {
		return value
	}
	return value + "@" + mechanism.Domain
}
