// Package testhelpers provides common utilities and helper functions for
// testing the WaveMeet gateway.
//
// This package contains reusable test utilities that are shared across
// integration tests: an in-memory storage collaborator, a fully wired
// gateway behind an httptest server, and helpers for dialing
// authenticated WebSocket connections and exchanging event envelopes.
package testhelpers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/wavemeet/internal/auth"
	"github.com/Tyrowin/wavemeet/internal/push"
	"github.com/Tyrowin/wavemeet/internal/server"
	"github.com/Tyrowin/wavemeet/internal/session"
)

const testJWTSecret = "integration-test-secret"

// MemoryStore is an in-memory implementation of session.Store and
// session.CallRecorder for tests that do not need a real database.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       int
	messages     []session.Message
	participants map[string][]string
	calls        []session.CallSummary
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{participants: make(map[string][]string)}
}

// AppendMessage stores a message with a sequential id.
func (s *MemoryStore) AppendMessage(_ context.Context, conversationID, senderID, content, mediaRef string) (session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg := session.Message{
		ID:             fmt.Sprintf("msg-%06d", s.nextID),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MediaRef:       mediaRef,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// ListMessages returns stored messages for a conversation in insert order.
func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []session.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListConversationsFor returns the conversations the user participates in.
func (s *MemoryStore) ListConversationsFor(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for conversationID, members := range s.participants {
		for _, member := range members {
			if member == userID {
				out = append(out, conversationID)
				break
			}
		}
	}
	return out, nil
}

// Participants returns the participants of a conversation.
func (s *MemoryStore) Participants(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.participants[conversationID]...), nil
}

// SetParticipants replaces a conversation's participant list.
func (s *MemoryStore) SetParticipants(conversationID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[conversationID] = userIDs
}

// RecordCall stores a call summary.
func (s *MemoryStore) RecordCall(_ context.Context, summary session.CallSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, summary)
	return nil
}

// RecordedCalls returns a snapshot of the stored call summaries.
func (s *MemoryStore) RecordedCalls() []session.CallSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.CallSummary(nil), s.calls...)
}

// Fixture is a fully wired gateway behind an httptest server.
type Fixture struct {
	Server   *httptest.Server
	Gateway  *server.Gateway
	Core     *session.Core
	Store    *MemoryStore
	Verifier *auth.Verifier
}

// StartGateway wires a session core, gateway, and HTTP server for
// integration tests and registers cleanup for all of them. The running
// server's own URL is added to the allowed origins.
func StartGateway(t *testing.T, customize func(cfg *server.Config)) *Fixture {
	if t == nil {
		panic("testing.T is required")
	}
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewMemoryStore()
	core := session.New(store, store, push.Nop{}, session.Config{
		TypingTTL:       200 * time.Millisecond,
		CallRingTimeout: 2 * time.Second,
		CallEvictDelay:  time.Second,
	}, logger)
	verifier := auth.NewVerifier(testJWTSecret)

	gateway := server.NewGateway(core, verifier, logger)
	go gateway.Run()

	testServer := httptest.NewServer(server.SetupRoutes(gateway))

	cfg := server.NewConfig()
	cfg.JWTSecret = testJWTSecret
	cfg.AllowedOrigins = append([]string{testServer.URL}, cfg.AllowedOrigins...)
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)

	t.Cleanup(func() {
		testServer.Close()
		if err := gateway.Shutdown(5 * time.Second); err != nil {
			t.Errorf("Gateway shutdown failed: %v", err)
		}
		server.SetConfig(nil)
	})

	return &Fixture{
		Server:   testServer,
		Gateway:  gateway,
		Core:     core,
		Store:    store,
		Verifier: verifier,
	}
}

// Token mints a short-lived credential for the identity.
func (f *Fixture) Token(t *testing.T, userID, username string) string {
	t.Helper()
	token, err := f.Verifier.Sign(auth.Identity{UserID: userID, Username: username}, time.Minute)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

// WebSocketURL returns the fixture's ws:// endpoint.
func (f *Fixture) WebSocketURL(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(f.Server.URL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// Dial opens an authenticated WebSocket connection for the identity and
// registers cleanup for it.
func (f *Fixture) Dial(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", f.Server.URL)
	header.Set("Authorization", "Bearer "+f.Token(t, userID, username))

	conn, resp, err := websocket.DefaultDialer.Dial(f.WebSocketURL(t), header)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// DialExpectingRefusal attempts a WebSocket dial that must be refused at
// the handshake and returns the HTTP status code of the refusal.
func (f *Fixture) DialExpectingRefusal(t *testing.T, header http.Header) int {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.WebSocketURL(t), header)
	if err == nil {
		conn.Close()
		t.Fatal("Expected the WebSocket handshake to be refused")
	}
	if resp == nil {
		t.Fatalf("Expected an HTTP response with the refusal, got only error: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

// SendEvent marshals the payload into an event envelope and writes it to
// the connection.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	envelope := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: payload}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("Failed to marshal %s envelope: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to write %s event: %v", event, err)
	}
}

// WaitForEvent reads frames until an envelope with the wanted event name
// arrives, skipping unrelated events, and returns its payload.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed waiting for %s: %v", event, err)
		}
		var envelope struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("Failed to unmarshal envelope %q: %v", data, err)
		}
		if envelope.Event == event {
			return envelope.Data
		}
		if strings.EqualFold(envelope.Event, "error") {
			t.Fatalf("Received error envelope while waiting for %s: %s", event, envelope.Data)
		}
	}
}

// ExpectNoEvent asserts that no envelope with the given event name
// arrives within the window.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, window time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return // timeout or close, either way the event did not arrive
		}
		var envelope struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		if envelope.Event == event {
			t.Fatalf("Expected no %s event, but received one", event)
		}
	}
}
