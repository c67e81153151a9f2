// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/sightglass-io/sightglass/lib/credential"
)

// Environment labels the deployment type. It selects which override
// section of the file applies.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the SDK configuration a host loads at startup.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Collector configures the delivery endpoints.
	Collector CollectorConfig `yaml:"collector"`

	// Credentials is the local credential material.
	Credentials CredentialsConfig `yaml:"credentials"`

	// Handoff is a base64-encoded session payload supplied by a
	// launcher process. Empty means no handoff.
	Handoff string `yaml:"handoff,omitempty"`

	// Per-environment overrides, applied after the base values when
	// Environment matches.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the fields an environment section may
// override.
type ConfigOverrides struct {
	Collector   *CollectorConfig   `yaml:"collector,omitempty"`
	Credentials *CredentialsConfig `yaml:"credentials,omitempty"`
}

// CollectorConfig configures where and how telemetry is delivered.
type CollectorConfig struct {
	// BaseURL is the collector root. Required.
	BaseURL string `yaml:"base_url"`

	// Compression selects the batch body encoding: none, lz4, or
	// zstd. Default: zstd.
	Compression string `yaml:"compression"`

	// SocketPath is the device-resident secondary service's Unix
	// socket. Empty disables the secondary channel.
	SocketPath string `yaml:"socket_path,omitempty"`
}

// CredentialsConfig is the on-disk shape of the local credential
// material. Mirrors credential.Local field for field.
type CredentialsConfig struct {
	AppID      string `yaml:"app_id,omitempty"`
	AppToken   string `yaml:"app_token,omitempty"`
	OrgID      string `yaml:"org_id,omitempty"`
	OrgToken   string `yaml:"org_token,omitempty"`
	AuthSecret string `yaml:"auth_secret,omitempty"`

	DeviceID   string   `yaml:"device_id,omitempty"`
	DeviceTags []string `yaml:"device_tags,omitempty"`
	Partner    string   `yaml:"partner,omitempty"`
	BuildType  string   `yaml:"build_type,omitempty"`

	OSVersion        string `yaml:"os_version,omitempty"`
	AppVersion       string `yaml:"app_version,omitempty"`
	BuildFingerprint string `yaml:"build_fingerprint,omitempty"`
}

// Default returns the base configuration the file is merged over. It
// exists to give every field a sensible zero, not as a fallback; the
// file itself is required.
func Default() *Config {
	return &Config{
		Environment: Development,
		Collector: CollectorConfig{
			Compression: "zstd",
		},
	}
}

// Load loads configuration from the path in SIGHTGLASS_CONFIG. Fails
// when the variable is unset; there is no fallback path.
func Load() (*Config, error) {
	path := os.Getenv("SIGHTGLASS_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("SIGHTGLASS_CONFIG environment variable not set; " +
			"set it to the path of your sightglass.yaml config file")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit file path. The file
// is the single source of truth; environment variables never override
// its values. The only expansion performed is ${HOME}-style path
// variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.Collector.SocketPath = expandVars(cfg.Collector.SocketPath)

	return cfg, nil
}

// Local converts the credential section into the resolver's input.
func (c *Config) Local() credential.Local {
	creds := c.Credentials
	return credential.Local{
		AppID:      creds.AppID,
		AppToken:   creds.AppToken,
		OrgID:      creds.OrgID,
		OrgToken:   creds.OrgToken,
		AuthSecret: creds.AuthSecret,

		DeviceID:   creds.DeviceID,
		DeviceTags: creds.DeviceTags,
		Partner:    creds.Partner,
		BuildType:  credential.BuildType(creds.BuildType),

		OSVersion:        creds.OSVersion,
		AppVersion:       creds.AppVersion,
		BuildFingerprint: creds.BuildFingerprint,
	}
}

// HandoffPayload decodes the launcher handoff, if any.
func (c *Config) HandoffPayload() ([]byte, error) {
	if c.Handoff == "" {
		return nil, nil
	}
	payload, err := base64.StdEncoding.DecodeString(c.Handoff)
	if err != nil {
		return nil, fmt.Errorf("decoding handoff payload: %w", err)
	}
	return payload, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Collector.BaseURL == "" {
		errs = append(errs, fmt.Errorf("collector.base_url is required"))
	}
	switch c.Collector.Compression {
	case "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("collector.compression must be none, lz4, or zstd"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Collector != nil {
		if overrides.Collector.BaseURL != "" {
			c.Collector.BaseURL = overrides.Collector.BaseURL
		}
		if overrides.Collector.Compression != "" {
			c.Collector.Compression = overrides.Collector.Compression
		}
		if overrides.Collector.SocketPath != "" {
			c.Collector.SocketPath = overrides.Collector.SocketPath
		}
	}
	if overrides.Credentials != nil {
		base := &c.Credentials
		over := overrides.Credentials
		if over.AppID != "" {
			base.AppID = over.AppID
		}
		if over.AppToken != "" {
			base.AppToken = over.AppToken
		}
		if over.OrgID != "" {
			base.OrgID = over.OrgID
		}
		if over.OrgToken != "" {
			base.OrgToken = over.OrgToken
		}
		if over.AuthSecret != "" {
			base.AuthSecret = over.AuthSecret
		}
		if over.DeviceID != "" {
			base.DeviceID = over.DeviceID
		}
		if len(over.DeviceTags) > 0 {
			base.DeviceTags = over.DeviceTags
		}
		if over.Partner != "" {
			base.Partner = over.Partner
		}
		if over.BuildType != "" {
			base.BuildType = over.BuildType
		}
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// process environment.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
