// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sightglass-io/sightglass/lib/clock"
	"github.com/sightglass-io/sightglass/lib/schema/collector"
	"github.com/sightglass-io/sightglass/lib/schema/telemetry"
	"github.com/sightglass-io/sightglass/lib/session"
)

// defaultRequestTimeout bounds each collector round trip when the
// caller's http.Client has no timeout of its own. Exceeding it is a
// retryable failure.
const defaultRequestTimeout = 30 * time.Second

// maxResponseSize caps collector response reads. The largest
// legitimate response (a token exchange with a full module list) is
// a few kilobytes; a megabyte means something upstream is broken.
const maxResponseSize = 1024 * 1024

// HTTPConfig configures the direct collector transport.
type HTTPConfig struct {
	// BaseURL is the collector root, e.g.
	// "https://collector.example.com". Required.
	BaseURL string

	// HTTPClient is used for all requests. Defaults to a client with
	// defaultRequestTimeout.
	HTTPClient *http.Client

	// Compression selects the batch body encoding. Defaults to zstd.
	Compression Compression

	// Clock provides request timestamps. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives transport-level diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// HTTP is the direct collector transport. Safe for concurrent use;
// SetBaseURL may be called while requests are in flight (the server
// configuration's restUrl override).
type HTTP struct {
	mu      sync.Mutex
	baseURL string

	httpClient  *http.Client
	compression Compression
	clock       clock.Clock
	logger      *slog.Logger
}

// NewHTTP creates the direct transport. Returns an error for a
// missing or non-absolute base URL.
func NewHTTP(config HTTPConfig) (*HTTP, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("transport: BaseURL is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("transport: BaseURL must be absolute (got %q)", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	compression := config.Compression
	if compression == "" {
		compression = CompressionZstd
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTP{
		baseURL:     baseURL,
		httpClient:  httpClient,
		compression: compression,
		clock:       clk,
		logger:      logger,
	}, nil
}

// SetBaseURL replaces the collector root for subsequent requests.
// Used when the server configuration carries a restUrl override.
func (t *HTTP) SetBaseURL(url string) {
	url = strings.TrimRight(url, "/")
	if url == "" {
		return
	}
	t.mu.Lock()
	t.baseURL = url
	t.mu.Unlock()
}

func (t *HTTP) currentBaseURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseURL
}

// Exchange posts the token exchange. Unauthenticated: the credentials
// travel in the body.
func (t *HTTP) Exchange(ctx context.Context, request collector.TokenRequest) (collector.TokenResponse, error) {
	var response collector.TokenResponse
	body, err := json.Marshal(request)
	if err != nil {
		return response, &Error{Kind: KindFatal, Err: fmt.Errorf("encoding token request: %w", err)}
	}
	raw, err := t.do(ctx, http.MethodPost, "/v1/token", body, session.State{})
	if err != nil {
		return response, err
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return response, &Error{Kind: KindFatal, Err: fmt.Errorf("decoding token response: %w", err)}
	}
	return response, nil
}

// FetchConfig retrieves the dynamic server configuration.
func (t *HTTP) FetchConfig(ctx context.Context, state session.State) (collector.ServerConfig, error) {
	var config collector.ServerConfig
	raw, err := t.do(ctx, http.MethodGet, "/v1/config", nil, state)
	if err != nil {
		return config, err
	}
	if err := json.Unmarshal(raw, &config); err != nil {
		return config, &Error{Kind: KindFatal, Err: fmt.Errorf("decoding server config: %w", err)}
	}
	return config, nil
}

// SendBatch posts one serialized batch to the channel's intake
// endpoint.
func (t *HTTP) SendBatch(ctx context.Context, channel telemetry.Channel, body []byte, state session.State) error {
	_, err := t.do(ctx, http.MethodPost, "/v1/batch/"+string(channel), body, state)
	return err
}

// do executes one request. The integrity headers are derived from
// state (skipped for the unauthenticated exchange, where the token is
// empty); bodies are compressed per the configured algorithm.
func (t *HTTP) do(ctx context.Context, method, path string, body []byte, state session.State) ([]byte, error) {
	url := t.currentBaseURL() + path

	var reader io.Reader
	var encoded []byte
	encoding := ""
	if body != nil {
		var err error
		encoded, err = t.compression.encode(body)
		if err != nil {
			return nil, &Error{Kind: KindFatal, Err: err}
		}
		encoding = t.compression.contentEncoding()
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Err: fmt.Errorf("creating request: %w", err)}
	}

	if body != nil {
		request.Header.Set("Content-Type", "application/json")
		if encoding != "" {
			request.Header.Set("Content-Encoding", encoding)
		}
	}

	timestamp := strconv.FormatInt(t.clock.Now().Unix(), 10)
	request.Header.Set("X-Sightglass-Timestamp", timestamp)
	if state.Token != "" {
		request.Header.Set("Authorization", "Bearer "+state.Token)
		request.Header.Set("X-Sightglass-Integrity", integrityHash(state.Token, state.Secret, timestamp, encoded))
	}

	response, err := t.httpClient.Do(request)
	if err != nil {
		// Timeouts, connection refusals, DNS failures: all worth an
		// identical retry later.
		return nil, &Error{Kind: KindRetryable, Err: fmt.Errorf("%s %s: %w", method, url, err)}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: KindRetryable, Err: fmt.Errorf("reading response: %w", err)}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &Error{
			Kind:   classifyStatus(response.StatusCode),
			Status: response.StatusCode,
			Err:    fmt.Errorf("%s %s: %s", method, url, strings.TrimSpace(string(raw))),
		}
	}
	return raw, nil
}

// classifyStatus maps an HTTP status to a retry classification:
// 5xx and 429 are worth retrying, 401 signals a stale token, the
// remaining 4xx are fatal for this request shape.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthExpired
	case status == http.StatusTooManyRequests:
		return KindRetryable
	case status >= 500:
		return KindRetryable
	default:
		return KindFatal
	}
}
