// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"github.com/google/uuid"
)

// Local is the credential material read from local SDK configuration.
type Local struct {
	AppID      string
	AppToken   string
	OrgID      string
	OrgToken   string
	AuthSecret string

	DeviceID   string
	DeviceTags []string
	Partner    string
	BuildType  BuildType

	OSVersion        string
	AppVersion       string
	LibraryVersion   string
	LibraryType      string
	BuildFingerprint string
}

// ManagedProvider supplies identity fields from a device-management
// service. Provider values always win over local configuration when
// the provider is connected and the value is non-empty.
//
// Implementations must tolerate being called before the underlying
// service is reachable: Connected returns false and Values is not
// consulted.
type ManagedProvider interface {
	// Connected reports whether provider values are available.
	Connected() bool

	// Values returns the provider-supplied overrides.
	Values() ProviderValues
}

// ProviderValues are the fields a managed-device provider may
// override. Empty fields are ignored.
type ProviderValues struct {
	OrgID      string
	AuthSecret string
	DeviceID   string
	DeviceTags []string
}

// Resolver produces Credentials snapshots from local configuration
// and an optional managed-device provider.
type Resolver struct {
	// Local is the locally configured credential material.
	Local Local

	// Provider is the optional managed-device provider. Nil disables
	// the overlay.
	Provider ManagedProvider

	// sessionID is minted on first Resolve and reused afterwards so
	// re-resolution (provider connecting late) keeps the session.
	sessionID string
}

// Resolve builds a Credentials snapshot, applying provider overrides
// and validating the credential invariants. Returns a
// *MissingCredentialError when the material is incomplete or
// conflicting.
func (r *Resolver) Resolve() (Credentials, error) {
	local := r.Local

	creds := Credentials{
		AppID:            local.AppID,
		AppToken:         local.AppToken,
		OrgID:            local.OrgID,
		OrgToken:         local.OrgToken,
		AuthSecret:       local.AuthSecret,
		DeviceID:         local.DeviceID,
		DeviceTags:       local.DeviceTags,
		Partner:          local.Partner,
		BuildType:        local.BuildType,
		OSVersion:        local.OSVersion,
		AppVersion:       local.AppVersion,
		LibraryVersion:   local.LibraryVersion,
		LibraryType:      local.LibraryType,
		BuildFingerprint: local.BuildFingerprint,
	}

	if r.Provider != nil && r.Provider.Connected() {
		values := r.Provider.Values()
		if values.OrgID != "" {
			creds.OrgID = values.OrgID
		}
		if values.AuthSecret != "" {
			creds.AuthSecret = values.AuthSecret
		}
		if values.DeviceID != "" {
			creds.DeviceID = values.DeviceID
		}
		if len(values.DeviceTags) > 0 {
			creds.DeviceTags = values.DeviceTags
		}
	}

	if err := validate(creds); err != nil {
		return Credentials{}, err
	}

	if r.sessionID == "" {
		r.sessionID = uuid.NewString()
	}
	creds.SessionID = r.sessionID

	return creds, nil
}

// validate enforces the credential invariants: exactly one of
// AppID/AppToken, an organization identity, and a secret when not
// using token auth.
func validate(creds Credentials) error {
	switch {
	case creds.AppID == "" && creds.AppToken == "":
		return &MissingCredentialError{
			Field:  "appId|appToken",
			Reason: "one of application ID or application token is required",
		}
	case creds.AppID != "" && creds.AppToken != "":
		return &MissingCredentialError{
			Field:  "appId|appToken",
			Reason: "application ID and application token are mutually exclusive",
		}
	}

	if creds.TokenAuth() {
		if creds.BuildType == BuildProductionCustom && creds.OrgToken == "" {
			return &MissingCredentialError{
				Field:  "orgToken",
				Reason: "organization token is required for production-custom builds using token auth",
			}
		}
		return nil
	}

	if creds.OrgID == "" {
		return &MissingCredentialError{
			Field:  "orgId",
			Reason: "organization ID is required",
		}
	}
	if creds.AuthSecret == "" {
		return &MissingCredentialError{
			Field:  "authSecret",
			Reason: "auth secret is required when not using token auth",
		}
	}
	return nil
}
