// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/sightglass-io/sightglass/lib/codec"
	"github.com/sightglass-io/sightglass/lib/schema/collector"
	"github.com/sightglass-io/sightglass/lib/schema/telemetry"
	"github.com/sightglass-io/sightglass/lib/session"
)

// dialTimeout bounds the connect phase to the secondary service's
// socket. The service is device-resident; a dial that takes longer
// than this means it is absent or wedged, and the caller should fall
// back to HTTP.
const dialTimeout = 5 * time.Second

// socketReadTimeout is how long a call waits for the secondary
// service's response after writing the request. The service proxies
// to the collector, so this mirrors the HTTP request timeout.
const socketReadTimeout = 30 * time.Second

// socketRequest is one CBOR request to the secondary service. One
// request per connection.
type socketRequest struct {
	Action  string `cbor:"action"`
	Token   string `cbor:"token,omitempty"`
	Channel string `cbor:"channel,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`
}

// socketResponse is the secondary service's reply. Data is CBOR to be
// decoded by the action's caller.
type socketResponse struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Socket delegates requests to the device-resident secondary service
// over its Unix socket, falling back to the direct HTTP transport on
// any channel failure. The service may disappear at runtime (it is an
// external collaborator); every call tolerates that.
type Socket struct {
	socketPath string
	fallback   *HTTP
	logger     *slog.Logger
}

// NewSocket creates the secondary-channel transport. The fallback
// transport is required; a Socket without a fallback would turn a
// missing device service into data loss.
func NewSocket(socketPath string, fallback *HTTP, logger *slog.Logger) (*Socket, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("transport: socket path is required")
	}
	if fallback == nil {
		return nil, fmt.Errorf("transport: fallback transport is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		socketPath: socketPath,
		fallback:   fallback,
		logger:     logger,
	}, nil
}

// Available reports whether the secondary service's socket exists.
// Cheap enough to call per-probe; does not guarantee the service
// answers (see Ready).
func (t *Socket) Available() bool {
	_, err := os.Stat(t.socketPath)
	return err == nil
}

// Ready performs a status round trip. A service that is present but
// still starting reports not-ready and the factory keeps the direct
// transport.
func (t *Socket) Ready(ctx context.Context) bool {
	response, err := t.call(ctx, socketRequest{Action: "status"})
	return err == nil && response.OK
}

// Exchange submits the token exchange through the secondary service,
// falling back to HTTP when the channel fails.
func (t *Socket) Exchange(ctx context.Context, request collector.TokenRequest) (collector.TokenResponse, error) {
	payload, err := codec.Marshal(request)
	if err != nil {
		return collector.TokenResponse{}, &Error{Kind: KindFatal, Err: fmt.Errorf("encoding exchange payload: %w", err)}
	}

	response, err := t.call(ctx, socketRequest{Action: "auth", Payload: payload})
	if err != nil {
		t.logger.Warn("secondary channel exchange failed, falling back to direct",
			"error", err,
		)
		return t.fallback.Exchange(ctx, request)
	}
	if !response.OK {
		return collector.TokenResponse{}, &Error{Kind: KindFatal, Err: fmt.Errorf("secondary channel: %s", response.Error)}
	}

	var decoded collector.TokenResponse
	if len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, &decoded); err != nil {
			return collector.TokenResponse{}, &Error{Kind: KindFatal, Err: fmt.Errorf("decoding exchange response: %w", err)}
		}
	}
	return decoded, nil
}

// FetchConfig retrieves the server configuration through the
// secondary service, falling back to HTTP when the channel fails.
func (t *Socket) FetchConfig(ctx context.Context, state session.State) (collector.ServerConfig, error) {
	response, err := t.call(ctx, socketRequest{Action: "config", Token: state.Token})
	if err != nil {
		t.logger.Warn("secondary channel config fetch failed, falling back to direct",
			"error", err,
		)
		return t.fallback.FetchConfig(ctx, state)
	}
	if !response.OK {
		return collector.ServerConfig{}, &Error{Kind: KindFatal, Err: fmt.Errorf("secondary channel: %s", response.Error)}
	}

	var decoded collector.ServerConfig
	if len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, &decoded); err != nil {
			return collector.ServerConfig{}, &Error{Kind: KindFatal, Err: fmt.Errorf("decoding server config: %w", err)}
		}
	}
	return decoded, nil
}

// SendBatch submits one serialized batch through the secondary
// service, falling back to HTTP when the channel fails. A batch the
// service accepted but the collector may not have received yet counts
// as delivered; the at-least-once contract tolerates the resulting
// duplicates.
func (t *Socket) SendBatch(ctx context.Context, channel telemetry.Channel, body []byte, state session.State) error {
	response, err := t.call(ctx, socketRequest{
		Action:  "submit",
		Token:   state.Token,
		Channel: string(channel),
		Payload: body,
	})
	if err != nil {
		t.logger.Warn("secondary channel submit failed, falling back to direct",
			"channel", channel,
			"error", err,
		)
		return t.fallback.SendBatch(ctx, channel, body, state)
	}
	if !response.OK {
		return &Error{Kind: KindFatal, Err: fmt.Errorf("secondary channel: %s", response.Error)}
	}
	return nil
}

// SetBaseURL redirects the fallback transport. The secondary service
// resolves its own collector endpoint.
func (t *Socket) SetBaseURL(baseURL string) {
	t.fallback.SetBaseURL(baseURL)
}

// call opens a connection, writes one CBOR request, and reads one
// CBOR response. One request per connection keeps the secondary
// service's protocol stateless.
func (t *Socket) call(ctx context.Context, request socketRequest) (*socketResponse, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", t.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", t.socketPath, err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	// Half-close so the service's read side sees EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
	var response socketResponse
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
