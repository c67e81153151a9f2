// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/sightglass-io/sightglass/lib/schema/collector"
)

// Policy is the retry and batching configuration shared by the
// authenticator and every delivery queue. Treat values as read-only
// after construction; Overridden produces a new Policy rather than
// mutating in place.
type Policy struct {
	// MaxRetriesOnFailure bounds retries for single-shot operations
	// (server config fetch, secondary-channel probes). The base token
	// exchange ignores it and retries indefinitely.
	MaxRetriesOnFailure int

	// RetryInterval is the wait between authentication retries and
	// the shortened flush cadence after a failed batch send.
	RetryInterval time.Duration

	// NextBatchWait is the normal flush cadence of a delivery queue.
	NextBatchWait time.Duration

	// StragglerTimeout bounds how long a force flush waits for its
	// delayed repeat attempt.
	StragglerTimeout time.Duration

	// MaxBatchSize is the record count that triggers an immediate
	// flush ahead of the cadence.
	MaxBatchSize int

	// MaxCachedItems caps a queue's in-memory record list. Exceeding
	// it prunes oldest-first with a logged warning.
	MaxCachedItems int

	// PruneOlderThan discards records that have waited this long
	// without a successful send, oldest-first, with a logged warning.
	PruneOlderThan time.Duration

	// RetainAfterSent keeps a copy of sent records for the host's
	// debug overlay. The queues themselves never re-send retained
	// records.
	RetainAfterSent bool
}

// Default returns the process-start policy used until the collector's
// server configuration is applied.
func Default() Policy {
	return Policy{
		MaxRetriesOnFailure: 3,
		RetryInterval:       5 * time.Second,
		NextBatchWait:       10 * time.Second,
		StragglerTimeout:    15 * time.Second,
		MaxBatchSize:        64,
		MaxCachedItems:      1024,
		PruneOlderThan:      24 * time.Hour,
		RetainAfterSent:     false,
	}
}

// Overridden returns a copy of p with every parseable field of the
// server configuration applied. Absent fields keep their current
// value; present-but-unparseable fields are logged at Warn and kept
// at their current value.
func (p Policy) Overridden(config collector.ServerConfig, logger *slog.Logger) Policy {
	applyInt(&p.MaxRetriesOnFailure, "maxRetriesOnFailure", config.MaxRetriesOnFailure, logger)
	applySeconds(&p.RetryInterval, "retryIntervalSeconds", config.RetryIntervalSeconds, logger)
	applySeconds(&p.NextBatchWait, "nextBatchWaitSeconds", config.NextBatchWaitSeconds, logger)
	applySeconds(&p.StragglerTimeout, "stragglerTimeoutSeconds", config.StragglerTimeoutSeconds, logger)
	applyInt(&p.MaxBatchSize, "maxBatchSize", config.MaxBatchSize, logger)
	applyInt(&p.MaxCachedItems, "maxCachedItems", config.MaxCachedItems, logger)
	applyHours(&p.PruneOlderThan, "pruneOlderThanHours", config.PruneOlderThanHours, logger)
	applyBool(&p.RetainAfterSent, "retainAfterSent", config.RetainAfterSent, logger)
	return p
}

func applyInt(target *int, field, wire string, logger *slog.Logger) {
	if wire == "" {
		return
	}
	value, err := strconv.Atoi(wire)
	if err != nil || value < 0 {
		logger.Warn("ignoring unparseable server config field",
			"field", field,
			"value", wire,
		)
		return
	}
	*target = value
}

func applySeconds(target *time.Duration, field, wire string, logger *slog.Logger) {
	seconds := 0
	applyInt(&seconds, field, wire, logger)
	if wire != "" && seconds > 0 {
		*target = time.Duration(seconds) * time.Second
	}
}

func applyHours(target *time.Duration, field, wire string, logger *slog.Logger) {
	hours := 0
	applyInt(&hours, field, wire, logger)
	if wire != "" && hours > 0 {
		*target = time.Duration(hours) * time.Hour
	}
}

func applyBool(target *bool, field, wire string, logger *slog.Logger) {
	if wire == "" {
		return
	}
	value, err := strconv.ParseBool(wire)
	if err != nil {
		logger.Warn("ignoring unparseable server config field",
			"field", field,
			"value", wire,
		)
		return
	}
	*target = value
}
