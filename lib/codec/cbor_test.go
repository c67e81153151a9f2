// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// channelRequest mirrors the secondary-channel request shape: string
// keys, a nested payload map, and raw token bytes.
type channelRequest struct {
	Action  string         `cbor:"action"`
	Token   string         `cbor:"token,omitempty"`
	Payload map[string]any `cbor:"payload,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	request := channelRequest{
		Action: "submit",
		Token:  "tok-123",
		Payload: map[string]any{
			"zeta":  "last",
			"alpha": "first",
			"count": int64(3),
		},
	}

	first, err := Marshal(request)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(request)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different CBOR bytes")
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	encoded, err := Marshal(map[string]any{
		"action":       "submit",
		"future_field": "from a newer channel version",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded channelRequest
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Action != "submit" {
		t.Errorf("Action: got %q, want %q", decoded.Action, "submit")
	}
}

func TestAnyTargetDecodesToStringKeyedMap(t *testing.T) {
	t.Parallel()

	encoded, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	nested, ok := decoded["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested value decoded as %T, want map[string]any", decoded["nested"])
	}
	if nested["k"] != "v" {
		t.Errorf("nested[k]: got %v, want %q", nested["k"], "v")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	if err := NewEncoder(&buffer).Encode(channelRequest{Action: "status"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded channelRequest
	if err := NewDecoder(&buffer).Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Action != "status" {
		t.Errorf("Action: got %q, want %q", decoded.Action, "status")
	}
}
