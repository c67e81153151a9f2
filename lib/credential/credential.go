// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import "fmt"

// BuildType distinguishes deployment flavors with different
// credential requirements.
type BuildType string

const (
	// BuildProduction is the standard multi-tenant build.
	BuildProduction BuildType = "production"

	// BuildProductionCustom is the single-tenant build. Token-based
	// auth on this build additionally requires an organization token.
	BuildProductionCustom BuildType = "production-custom"

	// BuildDevelopment relaxes nothing; it exists so hosts can label
	// non-production traffic.
	BuildDevelopment BuildType = "development"
)

// Credentials is the immutable identity snapshot sent with a token
// exchange. Exactly one of AppID/AppToken is set (the resolver
// enforces this).
type Credentials struct {
	AppID      string
	AppToken   string
	OrgID      string
	OrgToken   string
	AuthSecret string

	DeviceID   string
	DeviceTags []string
	Partner    string

	// SessionID identifies this process's telemetry session. Minted
	// once at first resolution and preserved across re-resolutions.
	SessionID string

	BuildType BuildType

	// Environment strings forwarded verbatim to the collector.
	OSVersion        string
	AppVersion       string
	LibraryVersion   string
	LibraryType      string
	BuildFingerprint string
}

// TokenAuth reports whether the snapshot uses token-based
// authentication (app token rather than app ID + secret).
func (c Credentials) TokenAuth() bool { return c.AppToken != "" }

// MissingCredentialError reports a credential field that local
// configuration and the managed-device provider both failed to
// supply. It is a configuration error: never retried, never sent to
// the network.
type MissingCredentialError struct {
	// Field names the missing or conflicting credential.
	Field string

	// Reason explains the requirement that was violated.
	Reason string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("credential: %s: %s", e.Field, e.Reason)
}
