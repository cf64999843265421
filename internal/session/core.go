package session

import (
	"context"
	"log/slog"
	"time"
)

// Config carries the core's tunable durations. Zero values select the
// component defaults.
type Config struct {
	TypingTTL       time.Duration
	CallRingTimeout time.Duration
	CallEvictDelay  time.Duration
}

// Core wires the session components together and owns the disconnect
// transaction. The transport layer talks to the core; the core never
// touches sockets.
type Core struct {
	Registry   *Registry
	Presence   *Presence
	Rooms      *Rooms
	Dispatcher *Dispatcher
	Typing     *Typing
	Calls      *Calls

	store  Store
	logger *slog.Logger
}

// New assembles a session core over the given collaborators.
func New(store Store, recorder CallRecorder, notifier Notifier, cfg Config, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewRegistry(logger)
	rooms := NewRooms(logger)
	return &Core{
		Registry:   registry,
		Presence:   NewPresence(registry, logger),
		Rooms:      rooms,
		Dispatcher: NewDispatcher(rooms, registry, store, notifier, logger),
		Typing:     NewTyping(rooms, cfg.TypingTTL, logger),
		Calls:      NewCalls(registry, recorder, cfg.CallRingTimeout, cfg.CallEvictDelay, logger),
		store:      store,
		logger:     logger,
	}
}

// Connect registers an authenticated connection and announces the
// identity's presence if this is its first live connection.
func (c *Core) Connect(conn Conn) {
	if first := c.Registry.Register(conn); first {
		c.Presence.MarkOnline(conn.UserID())
	}
}

// Disconnect is the universal cancellation signal for a connection: it
// unregisters the connection, clears its room memberships, announces the
// offline transition if this was the identity's last connection, and
// ends any calls involving the identity — in that dependency order.
func (c *Core) Disconnect(conn Conn) {
	userID, last := c.Registry.Unregister(conn)
	if userID == "" {
		return
	}
	c.Rooms.LeaveAll(conn)
	if last {
		c.Presence.MarkOffline(userID)
		c.Calls.EndAllFor(userID)
	}
}

// Join subscribes the connection to a conversation's real-time events.
func (c *Core) Join(conn Conn, conversationID string) error {
	if conversationID == "" {
		return ErrInvalidRequest
	}
	c.Rooms.Join(conn, conversationID)
	return nil
}

// Leave unsubscribes the connection from a conversation.
func (c *Core) Leave(conn Conn, conversationID string) error {
	if conversationID == "" {
		return ErrInvalidRequest
	}
	c.Rooms.Leave(conn, conversationID)
	return nil
}

// Conversations lists the conversation ids the identity participates in,
// from the storage collaborator.
func (c *Core) Conversations(ctx context.Context, userID string) ([]string, error) {
	return c.store.ListConversationsFor(ctx, userID)
}

// OnlineUsers returns a snapshot of all identities currently online.
func (c *Core) OnlineUsers() []string {
	return c.Registry.OnlineUsers()
}
