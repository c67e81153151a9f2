// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

// Channel names the collector's intake endpoints. Each delivery queue
// instance serves exactly one channel.
type Channel string

const (
	// ChannelEvents carries named application events.
	ChannelEvents Channel = "events"

	// ChannelLogs carries log records.
	ChannelLogs Channel = "logs"

	// ChannelMetrics carries custom metric points.
	ChannelMetrics Channel = "metrics"
)

// Severity is the log record level. Values match the collector's
// intake contract; they are not slog levels.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one named application event.
type Event struct {
	// Name identifies the event (e.g. "session.start",
	// "assessment.complete").
	Name string `json:"name"`

	// Timestamp is milliseconds since the Unix epoch, stamped at
	// record time.
	Timestamp int64 `json:"timestamp"`

	// Meta carries event-specific key/value attributes. May be nil.
	Meta map[string]any `json:"meta,omitempty"`
}

// LogRecord is one log line captured from the host application.
type LogRecord struct {
	// Level is the record severity.
	Level Severity `json:"level"`

	// Text is the log message body.
	Text string `json:"text"`

	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	// Meta carries record attributes (source, stack hash). May be nil.
	Meta map[string]any `json:"meta,omitempty"`
}

// MetricPoint is one custom metric sample.
type MetricPoint struct {
	// Name identifies the metric (e.g. "frame.rate", "fixation.count").
	Name string `json:"name"`

	// Value is the sample value.
	Value float64 `json:"value"`

	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	// Meta carries metric attributes. May be nil.
	Meta map[string]any `json:"meta,omitempty"`
}

// Batch is the intake envelope posted to the collector: the records
// of one flush, in send order. The collector accepts the same shape
// on every channel.
type Batch[T any] struct {
	// Data holds the batched records, oldest first.
	Data []T `json:"data"`
}
