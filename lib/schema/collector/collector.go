// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package collector

// AuthMechanism describes an interactive credential the collector
// demands beyond the base device/app credentials. A zero Type means
// no interactive step is required.
type AuthMechanism struct {
	// Type names the mechanism: "assessmentPin", "email", "text", or
	// empty for none.
	Type string `json:"type,omitempty"`

	// Prompt is the text shown to the user when collecting the value.
	Prompt string `json:"prompt,omitempty"`

	// Domain is appended to email-type inputs ("user" + "@" + Domain).
	Domain string `json:"domain,omitempty"`

	// InputSource hints where the value comes from ("keyboard",
	// "scanner").
	InputSource string `json:"inputSource,omitempty"`
}

// Required reports whether the mechanism demands an interactive step.
func (m AuthMechanism) Required() bool { return m.Type != "" }

// TokenRequest is the token exchange request body. Exactly one of
// AppID/AppToken is set, mirroring the credential invariant.
type TokenRequest struct {
	AppID      string `json:"appId,omitempty"`
	AppToken   string `json:"appToken,omitempty"`
	OrgID      string `json:"orgId,omitempty"`
	OrgToken   string `json:"orgToken,omitempty"`
	AuthSecret string `json:"authSecret,omitempty"`

	DeviceID       string `json:"deviceId"`
	UserID         string `json:"userId,omitempty"`
	SSOAccessToken string `json:"SSOAccessToken,omitempty"`

	Tags      []string `json:"tags,omitempty"`
	SessionID string   `json:"sessionId"`
	Partner   string   `json:"partner,omitempty"`

	IPAddress   string             `json:"ipAddress,omitempty"`
	DeviceModel string             `json:"deviceModel,omitempty"`
	Geolocation map[string]float64 `json:"geolocation,omitempty"`

	OSVersion        string `json:"osVersion,omitempty"`
	LibraryVersion   string `json:"libraryVersion,omitempty"`
	LibraryType      string `json:"libraryType,omitempty"`
	AppVersion       string `json:"appVersion,omitempty"`
	BuildFingerprint string `json:"buildFingerprint,omitempty"`

	// AuthMechanism carries the interactive value on the retry
	// exchange of an interactive step. Nil on the base exchange.
	AuthMechanism *AuthMechanism `json:"authMechanism,omitempty"`
}

// Module describes one collector-side module target returned with a
// successful exchange. The host uses the target list to decide which
// integrations to initialize.
type Module struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Target string `json:"target"`
	Order  int    `json:"order"`
}

// TokenResponse is the token exchange response body. The same shape
// is accepted as a launcher handoff payload: a payload with a
// non-empty Token is trusted without a network round trip.
type TokenResponse struct {
	// Token is the session bearer token, a JWT whose "exp" claim
	// carries the session expiry.
	Token string `json:"token"`

	// Secret keys the per-request integrity hash.
	Secret string `json:"secret"`

	UserID   string         `json:"userId,omitempty"`
	UserData map[string]any `json:"userData,omitempty"`

	AppID       string   `json:"appId,omitempty"`
	PackageName string   `json:"packageName,omitempty"`
	Modules     []Module `json:"modules,omitempty"`
}

// ServerConfig is the dynamic configuration document fetched after a
// successful exchange. Every field is optional; a present field
// overrides the local default, an absent field leaves it untouched.
// Numeric knobs are wire strings by backend contract.
type ServerConfig struct {
	// AuthMechanism, when present, demands an interactive credential
	// before the session is usable.
	AuthMechanism *AuthMechanism `json:"authMechanism,omitempty"`

	// RestURL overrides the collector base URL for subsequent
	// requests.
	RestURL string `json:"restUrl,omitempty"`

	MaxRetriesOnFailure     string `json:"maxRetriesOnFailure,omitempty"`
	RetryIntervalSeconds    string `json:"retryIntervalSeconds,omitempty"`
	NextBatchWaitSeconds    string `json:"nextBatchWaitSeconds,omitempty"`
	StragglerTimeoutSeconds string `json:"stragglerTimeoutSeconds,omitempty"`
	MaxBatchSize            string `json:"maxBatchSize,omitempty"`
	MaxCachedItems          string `json:"maxCachedItems,omitempty"`
	PruneOlderThanHours     string `json:"pruneOlderThanHours,omitempty"`
	RetainAfterSent         string `json:"retainAfterSent,omitempty"`

	// CapturePeriodSeconds sets the periodic capture cadence for
	// hosts that sample continuously (gaze, pose). The SDK does not
	// consume it; it is surfaced to the host.
	CapturePeriodSeconds string `json:"capturePeriodSeconds,omitempty"`
}
