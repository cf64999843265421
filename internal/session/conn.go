package session

import "context"

// Conn is a live client connection as seen by the session core. The
// transport layer owns the underlying socket and its lifecycle; the core
// only needs a stable identifier, the authenticated identity, and a
// best-effort way to push events to the peer.
type Conn interface {
	// ID returns the unique identifier of this connection.
	ID() string
	// UserID returns the authenticated identity that opened the connection.
	UserID() string
	// Send delivers an outbound event to the peer. It must not block
	// indefinitely; delivery is best-effort and an error indicates the
	// connection can no longer accept events.
	Send(event string, data any) error
}

// Store is the durable-storage collaborator. Message persistence is the
// only operation in the core permitted to fail a caller's request; the
// read operations serve history and conversation listings.
type Store interface {
	AppendMessage(ctx context.Context, conversationID, senderID, content, mediaRef string) (Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)
	ListConversationsFor(ctx context.Context, userID string) ([]string, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// CallRecorder receives a summary of every completed call. Recording is
// best-effort; failures are logged and never surfaced to participants.
type CallRecorder interface {
	RecordCall(ctx context.Context, summary CallSummary) error
}

// Notifier is the push-notification collaborator used to reach
// conversation participants with no live connection. Best-effort.
type Notifier interface {
	Notify(ctx context.Context, userID string, payload any) error
}
