package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentEvent struct {
	event string
	data  any
}

// fakeConn records every event delivered to it so tests can assert on
// fan-out behavior.
type fakeConn struct {
	id     string
	userID string

	mu      sync.Mutex
	events  []sentEvent
	sendErr error
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, sentEvent{event: event, data: data})
	return nil
}

func (c *fakeConn) countEvents(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, e := range c.events {
		if e.event == name {
			count++
		}
	}
	return count
}

func (c *fakeConn) lastEvent(name string) (sentEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].event == name {
			return c.events[i], true
		}
	}
	return sentEvent{}, false
}

type fakeStore struct {
	mu           sync.Mutex
	appendErr    error
	nextID       int
	messages     []Message
	participants map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{participants: make(map[string][]string)}
}

func (s *fakeStore) AppendMessage(_ context.Context, conversationID, senderID, content, mediaRef string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return Message{}, s.appendErr
	}
	s.nextID++
	msg := Message{
		ID:             fmt.Sprintf("msg-%d", s.nextID),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MediaRef:       mediaRef,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *fakeStore) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
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

func (s *fakeStore) ListConversationsFor(_ context.Context, userID string) ([]string, error) {
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

func (s *fakeStore) Participants(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.participants[conversationID]...), nil
}

func (s *fakeStore) setParticipants(conversationID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[conversationID] = userIDs
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *fakeNotifier) Notify(_ context.Context, userID string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, userID)
	return nil
}

func (n *fakeNotifier) notifiedUsers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notified...)
}

type fakeRecorder struct {
	mu        sync.Mutex
	summaries []CallSummary
}

func (r *fakeRecorder) RecordCall(_ context.Context, summary CallSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
	return nil
}

func (r *fakeRecorder) recorded() []CallSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallSummary(nil), r.summaries...)
}

// waitFor polls a condition until it holds or the timeout elapses,
// failing the test on timeout.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
