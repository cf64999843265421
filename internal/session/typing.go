package session

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator stays alive without a
// refresh before the coordinator expires it on the typer's behalf.
const DefaultTypingTTL = 3 * time.Second

type typingKey struct {
	conversationID string
	userID         string
}

type typingEntry struct {
	deadline time.Time
	timer    *time.Timer
}

// Typing coordinates short-lived typing indicators per (conversation,
// user). Only edge transitions broadcast: refreshing an indicator before
// expiry extends its deadline silently, and expiry emits typing.stop as
// if the user had stopped explicitly, so no indicator outlives a client
// that disconnected mid-type.
type Typing struct {
	rooms  *Rooms
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

// NewTyping creates a typing coordinator. A non-positive ttl selects
// DefaultTypingTTL.
func NewTyping(rooms *Rooms, ttl time.Duration, logger *slog.Logger) *Typing {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Typing{
		rooms:   rooms,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[typingKey]*typingEntry),
	}
}

// Start marks the user as typing in the conversation. The first call
// broadcasts typing.start to the room (except the typer); subsequent
// calls before expiry only refresh the deadline.
func (t *Typing) Start(conversationID, userID string) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	if entry, ok := t.entries[key]; ok {
		entry.deadline = time.Now().Add(t.ttl)
		entry.timer.Reset(t.ttl)
		t.mu.Unlock()
		return
	}
	t.entries[key] = &typingEntry{
		deadline: time.Now().Add(t.ttl),
		timer:    time.AfterFunc(t.ttl, func() { t.expire(key) }),
	}
	t.mu.Unlock()

	t.broadcast(EventTypingStart, conversationID, userID)
}

// Stop clears the user's typing state immediately and broadcasts
// typing.stop. A no-op when the user was not marked as typing.
func (t *Typing) Stop(conversationID, userID string) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	entry.timer.Stop()
	delete(t.entries, key)
	t.mu.Unlock()

	t.broadcast(EventTypingStop, conversationID, userID)
}

// IsTyping reports whether the user currently has a live, unexpired
// typing indicator in the conversation.
func (t *Typing) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[typingKey{conversationID, userID}]
	return ok && time.Now().Before(entry.deadline)
}

// expire fires from the entry's timer. A timer that lost the race with a
// refresh or an explicit stop observes the current state and no-ops.
func (t *Typing) expire(key typingKey) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || time.Now().Before(entry.deadline) {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	t.logger.Debug("typing indicator expired",
		"conversationId", key.conversationID, "userId", key.userID)
	t.broadcast(EventTypingStop, key.conversationID, key.userID)
}

// broadcast delivers the typing event to every room member except the
// typer's own connections.
func (t *Typing) broadcast(event, conversationID, userID string) {
	payload := TypingEvent{ConversationID: conversationID, UserID: userID}
	for _, conn := range t.rooms.MembersOf(conversationID) {
		if conn.UserID() == userID {
			continue
		}
		if err := conn.Send(event, payload); err != nil {
			t.logger.Warn("typing broadcast failed",
				"connId", conn.ID(), "conversationId", conversationID, "error", err)
		}
	}
}
