// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"time"
)

// defaultProbeTimeout bounds the one-time readiness probe of the
// secondary service at startup.
const defaultProbeTimeout = 3 * time.Second

// Config selects and configures the transport for one client.
type Config struct {
	// HTTP configures the direct collector transport. Always built;
	// it is either the transport itself or the secondary channel's
	// fallback.
	HTTP HTTPConfig

	// SocketPath is the secondary service's Unix socket. Empty
	// disables the secondary channel entirely.
	SocketPath string

	// ProbeTimeout bounds the startup readiness probe. Defaults to
	// defaultProbeTimeout.
	ProbeTimeout time.Duration
}

// New builds the transport. The secondary channel is probed exactly
// once: if its socket exists and the service answers a status round
// trip within the probe timeout, the returned transport prefers it
// with per-call HTTP fallback. Otherwise requests go direct.
func New(ctx context.Context, config Config) (Transport, error) {
	direct, err := NewHTTP(config.HTTP)
	if err != nil {
		return nil, err
	}
	if config.SocketPath == "" {
		return direct, nil
	}

	secondary, err := NewSocket(config.SocketPath, direct, config.HTTP.Logger)
	if err != nil {
		return nil, err
	}
	if !secondary.Available() {
		secondary.logger.Debug("secondary channel socket absent, using direct transport",
			"path", config.SocketPath,
		)
		return direct, nil
	}

	probeTimeout := config.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if !secondary.Ready(probeCtx) {
		secondary.logger.Info("secondary channel not ready, using direct transport",
			"path", config.SocketPath,
		)
		return direct, nil
	}

	secondary.logger.Info("secondary channel active", "path", config.SocketPath)
	return secondary, nil
}
