// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sightglass-io/sightglass/lib/credential"
	"github.com/sightglass-io/sightglass/lib/schema/collector"
	"github.com/sightglass-io/sightglass/lib/session"
)

// baseRequest builds the token exchange request from a credential
// snapshot. The interactive flow adds its mechanism on top.
func (a *Authenticator) baseRequest(creds credential.Credentials) collector.TokenRequest {
	return collector.TokenRequest{
		AppID:      creds.AppID,
		AppToken:   creds.AppToken,
		OrgID:      creds.OrgID,
		OrgToken:   creds.OrgToken,
		AuthSecret: creds.AuthSecret,

		DeviceID:  creds.DeviceID,
		UserID:    a.session.Snapshot().UserID,
		Tags:      creds.DeviceTags,
		SessionID: creds.SessionID,
		Partner:   creds.Partner,

		OSVersion:        creds.OSVersion,
		AppVersion:       creds.AppVersion,
		LibraryVersion:   creds.LibraryVersion,
		LibraryType:      creds.LibraryType,
		BuildFingerprint: creds.BuildFingerprint,
	}
}

// exchange performs the base token exchange, retrying every failure
// (network and protocol alike) at the retry interval until it
// succeeds or ctx is cancelled. Single-shot callers use
// exchangeOnce instead.
func (a *Authenticator) exchange(ctx context.Context, request collector.TokenRequest) (collector.TokenResponse, error) {
	attempt := 0
	for {
		response, err := a.exchangeOnce(ctx, request)
		if err == nil {
			return response, nil
		}
		if ctx.Err() != nil {
			return collector.TokenResponse{}, fmt.Errorf("token exchange: %w", ctx.Err())
		}
		attempt++
		a.logger.Warn("token exchange failed, retrying",
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-a.clock.After(a.Policy().RetryInterval):
		case <-ctx.Done():
			return collector.TokenResponse{}, fmt.Errorf("token exchange: %w", ctx.Err())
		}
	}
}

// exchangeOnce performs a single token exchange attempt. A response
// without a token is a protocol error.
func (a *Authenticator) exchangeOnce(ctx context.Context, request collector.TokenRequest) (collector.TokenResponse, error) {
	response, err := a.transport.Exchange(ctx, request)
	if err != nil {
		return collector.TokenResponse{}, err
	}
	if response.Token == "" {
		return collector.TokenResponse{}, fmt.Errorf("token exchange response missing token")
	}
	return response, nil
}

// sessionState converts an exchange response into installable session
// state. An undecodable expiry claim is a non-retryable failure.
func (a *Authenticator) sessionState(response collector.TokenResponse) (session.State, error) {
	expiry, err := tokenExpiry(response.Token)
	if err != nil {
		return session.State{}, fmt.Errorf("decoding token expiry: %w", err)
	}
	return session.State{
		Token:              response.Token,
		Secret:             response.Secret,
		Expiry:             expiry,
		UserID:             response.UserID,
		UserData:           response.UserData,
		MechanismSatisfied: true,
	}, nil
}

// tokenExpiry extracts the exp claim from the session token. The
// token is issued by the collector and verified there; the client
// only needs the expiry, so the signature is not checked.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if expiry == nil {
		return time.Time{}, fmt.Errorf("token carries no exp claim")
	}
	return expiry.Time, nil
}

// applyServerConfig fetches the dynamic server configuration and
// applies it: retry policy overrides, collector URL redirect, and the
// interactive mechanism demand. Best-effort with a bounded retry; a
// fetch that never succeeds leaves the defaults in effect and does
// not abort authentication.
func (a *Authenticator) applyServerConfig(ctx context.Context, state session.State) *collector.AuthMechanism {
	policy := a.Policy()

	var config collector.ServerConfig
	var err error
	for attempt := 0; attempt <= policy.MaxRetriesOnFailure; attempt++ {
		if attempt > 0 {
			select {
			case <-a.clock.After(policy.RetryInterval):
			case <-ctx.Done():
				return nil
			}
		}
		config, err = a.transport.FetchConfig(ctx, state)
		if err == nil {
			break
		}
	}
	if err != nil {
		a.logger.Warn("server config fetch failed, keeping defaults", "error", err)
		return nil
	}

	a.mu.Lock()
	a.policy = a.policy.Overridden(config, a.logger)
	updated := a.policy
	a.mu.Unlock()

	if config.RestURL != "" {
		if redirectable, ok := a.transport.(interface{ SetBaseURL(string) }); ok {
			a.logger.Info("collector endpoint overridden by server config", "url", config.RestURL)
			redirectable.SetBaseURL(config.RestURL)
		}
	}
	if a.onPolicyChange != nil {
		a.onPolicyChange(updated)
	}
	return config.AuthMechanism
}
