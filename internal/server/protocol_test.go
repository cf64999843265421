package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Tyrowin/wavemeet/internal/session"
)

func TestEncodeEventWrapsPayload(t *testing.T) {
	data, err := encodeEvent("message.received", session.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		SenderID:       "alice",
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("encodeEvent failed: %v", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Failed to unmarshal envelope: %v", err)
	}
	if envelope.Event != "message.received" {
		t.Errorf("Expected event message.received, got %q", envelope.Event)
	}

	var msg session.Message
	if err := json.Unmarshal(envelope.Data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if msg.ID != "msg-1" || msg.Content != "hello" {
		t.Errorf("Unexpected payload: %+v", msg)
	}
}

func TestEncodeEventWithoutPayload(t *testing.T) {
	data, err := encodeEvent("presence.setOnline", nil)
	if err != nil {
		t.Fatalf("encodeEvent failed: %v", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Failed to unmarshal envelope: %v", err)
	}
	if len(envelope.Data) != 0 {
		t.Errorf("Expected no payload, got %s", envelope.Data)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err      error
		expected string
	}{
		{session.ErrUnauthorized, "unauthorized"},
		{session.ErrInvalidRequest, "invalid_request"},
		{fmt.Errorf("%w: disk full", session.ErrPersistence), "persistence_error"},
		{session.ErrCallNotFound, "call_not_found"},
		{session.ErrInvalidCallState, "invalid_call_state"},
		{errors.New("anything else"), "internal"},
	}

	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.expected {
			t.Errorf("errorCode(%v) = %q, expected %q", tc.err, got, tc.expected)
		}
	}
}
