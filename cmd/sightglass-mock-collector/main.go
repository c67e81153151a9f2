// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Sightglass-mock-collector is a drop-in replacement for the real
// collector in integration tests and host development. It speaks the
// SDK's full wire surface (same paths, headers, and body encodings),
// stores every delivered batch in memory, and exposes debug endpoints
// so tests can verify what arrived.
//
// HTTP endpoints:
//   - POST /v1/token: token exchange; issues a signed JWT and honors
//     the scenario's interactive-credential demand and injected failures
//   - GET /v1/config: the scenario's server configuration document
//   - POST /v1/batch/{channel} (authenticated): batch intake with
//     compression and integrity-header verification
//   - GET /debug/status: counters for test assertions
//   - GET /debug/batches/{channel}: stored batches as a JSON array
//   - POST /debug/reset: clears the stores and failure injection counters
//
// With --socket the mock also serves the device secondary channel:
// one CBOR request per connection with status, auth, config, and
// submit actions, backed by the same store.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	flag "github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/sightglass-io/sightglass/lib/codec"
	"github.com/sightglass-io/sightglass/lib/schema/collector"
	"github.com/sightglass-io/sightglass/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sightglass-mock-collector:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddr   string
		socketPath   string
		scenarioPath string
		showVersion  bool
	)
	flag.StringVar(&listenAddr, "listen", "127.0.0.1:9400", "HTTP listen address")
	flag.StringVar(&socketPath, "socket", "", "serve the device secondary channel on this Unix socket")
	flag.StringVar(&scenarioPath, "scenario", "", "scenario file (JSONC)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("sightglass-mock-collector")
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	scenario, err := loadScenario(scenarioPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mock := newCollectorMock(scenario, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/token", mock.handleToken)
	mux.HandleFunc("GET /v1/config", mock.handleConfig)
	mux.HandleFunc("POST /v1/batch/{channel}", mock.handleBatch)
	mux.HandleFunc("GET /debug/status", mock.handleStatus)
	mux.HandleFunc("GET /debug/batches/{channel}", mock.handleQueryBatches)
	mux.HandleFunc("POST /debug/reset", mock.handleReset)

	server := &http.Server{Addr: listenAddr, Handler: mux}
	httpDone := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		httpDone <- err
	}()

	var socketListener net.Listener
	if socketPath != "" {
		os.Remove(socketPath)
		socketListener, err = net.Listen("unix", socketPath)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", socketPath, err)
		}
		go mock.serveSocket(ctx, socketListener)
	}

	logger.Info("mock collector running",
		"listen", listenAddr,
		"socket", socketPath,
		"scenario", scenarioPath,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if socketListener != nil {
		socketListener.Close()
		os.Remove(socketPath)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	return <-httpDone
}

// scenario is the mock's behavior script. All fields are optional;
// the zero scenario accepts every exchange and batch.
type scenario struct {
	// Secret keys the integrity hash the SDK computes per request.
	Secret string `json:"secret"`

	// SigningKey signs issued JWTs. Tests that assert on token
	// contents verify with the same key.
	SigningKey string `json:"signingKey"`

	// TokenTTLSeconds sets the exp claim of issued tokens. Short
	// values exercise the SDK's refresh path.
	TokenTTLSeconds int `json:"tokenTtlSeconds"`

	// FailExchanges makes the first N token exchanges answer 503,
	// exercising the SDK's indefinite exchange retry.
	FailExchanges int `json:"failExchanges"`

	// FailBatches makes the first N batch submissions answer 503,
	// exercising requeue-at-front delivery retry.
	FailBatches int `json:"failBatches"`

	// AuthMechanism, when set, is served from /v1/config and demands
	// an interactive credential before batches are accepted.
	AuthMechanism *collector.AuthMechanism `json:"authMechanism"`

	// AcceptedInputs lists the interactive values the exchange
	// accepts. An exchange carrying any other value answers 403.
	AcceptedInputs []string `json:"acceptedInputs"`

	// UserData is attached to every token response.
	UserData map[string]any `json:"userData"`

	// Modules is the target list attached to every token response.
	Modules []collector.Module `json:"modules"`

	// ServerConfig is merged into the /v1/config response (the
	// AuthMechanism field above wins over one set here).
	ServerConfig collector.ServerConfig `json:"serverConfig"`
}

func loadScenario(path string) (*scenario, error) {
	loaded := &scenario{
		Secret:          "mock-secret",
		SigningKey:      "mock-signing-key",
		TokenTTLSeconds: 3600,
	}
	if path == "" {
		return loaded, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), loaded); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if loaded.TokenTTLSeconds <= 0 {
		loaded.TokenTTLSeconds = 3600
	}
	return loaded, nil
}

// collectorMock stores delivered batches in memory for test
// assertions.
type collectorMock struct {
	scenario *scenario
	logger   *slog.Logger

	mu             sync.Mutex
	batches        map[string][]json.RawMessage
	exchanges      int
	failedAuths    int
	failExchanges  int
	failBatches    int
	batchRejection int
}

func newCollectorMock(s *scenario, logger *slog.Logger) *collectorMock {
	return &collectorMock{
		scenario:      s,
		logger:        logger,
		batches:       make(map[string][]json.RawMessage),
		failExchanges: s.FailExchanges,
		failBatches:   s.FailBatches,
	}
}

func (m *collectorMock) handleToken(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	var request collector.TokenRequest
	if err := json.Unmarshal(body, &request); err != nil {
		httpError(w, http.StatusBadRequest, "invalid token request")
		return
	}

	m.mu.Lock()
	m.exchanges++
	failing := m.failExchanges > 0
	if failing {
		m.failExchanges--
	}
	m.mu.Unlock()

	if failing {
		httpError(w, http.StatusServiceUnavailable, "scenario: exchange failure injected")
		return
	}
	if (request.AppID == "") == (request.AppToken == "") {
		httpError(w, http.StatusBadRequest, "exactly one of appId and appToken is required")
		return
	}
	if request.AuthMechanism != nil && !m.inputAccepted(request.AuthMechanism.InputSource) {
		m.mu.Lock()
		m.failedAuths++
		m.mu.Unlock()
		httpError(w, http.StatusForbidden, "interactive credential rejected")
		return
	}

	response, err := m.issueToken(request)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, response)
}

func (m *collectorMock) issueToken(request collector.TokenRequest) (collector.TokenResponse, error) {
	expiry := time.Now().Add(time.Duration(m.scenario.TokenTTLSeconds) * time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": expiry.Unix(),
		"iat": time.Now().Unix(),
		"sub": request.DeviceID,
	}).SignedString([]byte(m.scenario.SigningKey))
	if err != nil {
		return collector.TokenResponse{}, fmt.Errorf("signing token: %w", err)
	}
	return collector.TokenResponse{
		Token:    token,
		Secret:   m.scenario.Secret,
		UserID:   request.UserID,
		UserData: m.scenario.UserData,
		Modules:  m.scenario.Modules,
	}, nil
}

func (m *collectorMock) inputAccepted(value string) bool {
	if len(m.scenario.AcceptedInputs) == 0 {
		return true
	}
	for _, accepted := range m.scenario.AcceptedInputs {
		if value == accepted {
			return true
		}
	}
	return false
}

func (m *collectorMock) serverConfig() collector.ServerConfig {
	config := m.scenario.ServerConfig
	if m.scenario.AuthMechanism != nil {
		config.AuthMechanism = m.scenario.AuthMechanism
	}
	return config
}

func (m *collectorMock) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !m.authorize(w, r) {
		return
	}
	writeJSON(w, m.serverConfig())
}

func (m *collectorMock) handleBatch(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	m.mu.Lock()
	failing := m.failBatches > 0
	if failing {
		m.failBatches--
	}
	m.mu.Unlock()
	if failing {
		httpError(w, http.StatusServiceUnavailable, "scenario: batch failure injected")
		return
	}

	if !m.authorize(w, r) {
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, "reading body")
		return
	}
	if !m.verifyIntegrity(r, raw) {
		httpError(w, http.StatusForbidden, "integrity header mismatch")
		return
	}
	body, err := decompress(r.Header.Get("Content-Encoding"), raw)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !json.Valid(body) {
		httpError(w, http.StatusBadRequest, "batch body is not valid JSON")
		return
	}

	m.storeBatch(channel, body)
	m.logger.Info("batch stored", "channel", channel, "bytes", len(body))
	w.WriteHeader(http.StatusOK)
}

func (m *collectorMock) storeBatch(channel string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[channel] = append(m.batches[channel], json.RawMessage(body))
}

// authorize checks the bearer token: present, signed with the
// scenario key, and unexpired. A stale token answers 401, which the
// SDK maps to its silent-refresh path.
func (m *collectorMock) authorize(w http.ResponseWriter, r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		httpError(w, http.StatusUnauthorized, "missing bearer token")
		return false
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return []byte(m.scenario.SigningKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		httpError(w, http.StatusUnauthorized, "invalid or expired token")
		return false
	}
	return true
}

func (m *collectorMock) verifyIntegrity(r *http.Request, rawBody []byte) bool {
	header := r.Header.Get("X-Sightglass-Integrity")
	if header == "" {
		return false
	}
	want := integrityHash(
		bearerToken(r),
		m.scenario.Secret,
		r.Header.Get("X-Sightglass-Timestamp"),
		rawBody,
	)
	return header == want
}

func (m *collectorMock) handleStatus(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	counts := make(map[string]int, len(m.batches))
	for channel, stored := range m.batches {
		counts[channel] = len(stored)
	}
	status := map[string]any{
		"exchanges":   m.exchanges,
		"failedAuths": m.failedAuths,
		"batches":     counts,
	}
	m.mu.Unlock()
	writeJSON(w, status)
}

func (m *collectorMock) handleQueryBatches(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	m.mu.Lock()
	stored := make([]json.RawMessage, len(m.batches[channel]))
	copy(stored, m.batches[channel])
	m.mu.Unlock()
	writeJSON(w, stored)
}

func (m *collectorMock) handleReset(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	m.batches = make(map[string][]json.RawMessage)
	m.exchanges = 0
	m.failedAuths = 0
	m.failExchanges = m.scenario.FailExchanges
	m.failBatches = m.scenario.FailBatches
	m.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// socketRequest and socketResponse match the SDK's secondary-channel
// wire format.
type socketRequest struct {
	Action  string `cbor:"action"`
	Token   string `cbor:"token,omitempty"`
	Channel string `cbor:"channel,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`
}

type socketResponse struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

func (m *collectorMock) serveSocket(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Warn("socket accept failed", "error", err)
			continue
		}
		go m.handleSocketConn(conn)
	}
}

// handleSocketConn serves one request per connection, matching the
// SDK's stateless secondary-channel protocol.
func (m *collectorMock) handleSocketConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	var request socketRequest
	if err := codec.NewDecoder(conn).Decode(&request); err != nil {
		m.logger.Warn("socket request decode failed", "error", err)
		return
	}

	response := m.dispatchSocket(request)
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		m.logger.Warn("socket response write failed", "error", err)
	}
}

func (m *collectorMock) dispatchSocket(request socketRequest) socketResponse {
	switch request.Action {
	case "status":
		return socketResponse{OK: true}
	case "auth":
		return m.socketAuth(request)
	case "config":
		if !m.socketAuthorized(request.Token) {
			return socketResponse{Error: "invalid or expired token"}
		}
		data, err := codec.Marshal(m.serverConfig())
		if err != nil {
			return socketResponse{Error: err.Error()}
		}
		return socketResponse{OK: true, Data: data}
	case "submit":
		if !m.socketAuthorized(request.Token) {
			return socketResponse{Error: "invalid or expired token"}
		}
		if !json.Valid(request.Payload) {
			return socketResponse{Error: "batch payload is not valid JSON"}
		}
		m.storeBatch(request.Channel, request.Payload)
		m.logger.Info("batch stored via socket",
			"channel", request.Channel,
			"bytes", len(request.Payload),
		)
		return socketResponse{OK: true}
	default:
		return socketResponse{Error: fmt.Sprintf("unknown action %q", request.Action)}
	}
}

func (m *collectorMock) socketAuth(request socketRequest) socketResponse {
	var tokenRequest collector.TokenRequest
	if err := codec.Unmarshal(request.Payload, &tokenRequest); err != nil {
		return socketResponse{Error: "invalid exchange payload"}
	}

	m.mu.Lock()
	m.exchanges++
	failing := m.failExchanges > 0
	if failing {
		m.failExchanges--
	}
	m.mu.Unlock()
	if failing {
		return socketResponse{Error: "scenario: exchange failure injected"}
	}
	if tokenRequest.AuthMechanism != nil && !m.inputAccepted(tokenRequest.AuthMechanism.InputSource) {
		return socketResponse{Error: "interactive credential rejected"}
	}

	tokenResponse, err := m.issueToken(tokenRequest)
	if err != nil {
		return socketResponse{Error: err.Error()}
	}
	data, err := codec.Marshal(tokenResponse)
	if err != nil {
		return socketResponse{Error: err.Error()}
	}
	return socketResponse{OK: true, Data: data}
}

func (m *collectorMock) socketAuthorized(token string) bool {
	if token == "" {
		return false
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return []byte(m.scenario.SigningKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && parsed.Valid
}

// requestDomainKey matches the SDK's integrity-hash domain key.
var requestDomainKey = [32]byte{
	's', 'i', 'g', 'h', 't', 'g', 'l', 'a', 's', 's', '.',
	'r', 'e', 'q', 'u', 'e', 's', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// integrityHash recomputes the SDK's per-request integrity header:
// keyed BLAKE3 over token, secret, timestamp, and the BLAKE3 body
// digest, hex encoded. The hash covers the body as transmitted, after
// compression.
func integrityHash(token, secret, timestamp string, body []byte) string {
	bodySum := blake3.Sum256(body)
	hasher, err := blake3.NewKeyed(requestDomainKey[:])
	if err != nil {
		panic("blake3 keyed hasher: " + err.Error())
	}
	hasher.Write([]byte(token))
	hasher.Write([]byte(secret))
	hasher.Write([]byte(timestamp))
	hasher.Write(bodySum[:])
	return hex.EncodeToString(hasher.Sum(nil))
}

// decompress reverses the SDK's batch body encoding per the request's
// Content-Encoding header.
func decompress(encoding string, body []byte) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "zstd":
		reader, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer reader.Close()
		decoded, err := reader.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return decoded, nil
	case "lz4":
		decoded, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return decompress(r.Header.Get("Content-Encoding"), raw)
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func httpError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		slog.Default().Warn("encoding response", "error", err)
	}
}
