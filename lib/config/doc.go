// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the SDK.
//
// Configuration is loaded from a single file specified by either the
// SIGHTGLASS_CONFIG environment variable (via [Load]) or an explicit
// path the host passes to [LoadFile]. There are no fallbacks, no
// ~/.config discovery, and no automatic file search. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
package config
