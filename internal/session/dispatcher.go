package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// pushTimeout bounds the fire-and-forget notification of offline
// conversation participants.
const pushTimeout = 5 * time.Second

// Dispatcher accepts outbound messages, persists them through the
// storage collaborator, and fans the persisted message out to the
// conversation's room. Persistence failure is the only error a sender
// ever sees; every delivery after a successful persist is best-effort.
type Dispatcher struct {
	rooms    *Rooms
	registry *Registry
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

// NewDispatcher creates a message dispatcher.
func NewDispatcher(rooms *Rooms, registry *Registry, store Store, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		rooms:    rooms,
		registry: registry,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Send persists a message and broadcasts the stored copy (with its
// server-assigned id and timestamp) to every connection in the
// conversation's room, the sender's own connections included. Offline
// conversation participants are notified through the push collaborator.
func (d *Dispatcher) Send(ctx context.Context, conversationID, senderID, content, mediaRef string) (Message, error) {
	if conversationID == "" || senderID == "" || content == "" {
		return Message{}, fmt.Errorf("%w: conversation id, sender id, and content are required", ErrInvalidRequest)
	}

	msg, err := d.store.AppendMessage(ctx, conversationID, senderID, content, mediaRef)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	for _, conn := range d.rooms.MembersOf(conversationID) {
		if err := conn.Send(EventMessageReceived, msg); err != nil {
			d.logger.Warn("message delivery failed",
				"connId", conn.ID(), "messageId", msg.ID, "error", err)
		}
	}

	go d.notifyOffline(msg)

	return msg, nil
}

// notifyOffline pushes the message to every conversation participant
// with no live connection at broadcast time. Failures are logged and
// swallowed.
func (d *Dispatcher) notifyOffline(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	participants, err := d.store.Participants(ctx, msg.ConversationID)
	if err != nil {
		d.logger.Warn("participant lookup failed",
			"conversationId", msg.ConversationID, "error", err)
		return
	}

	for _, userID := range participants {
		if userID == msg.SenderID || d.registry.IsOnline(userID) {
			continue
		}
		if err := d.notifier.Notify(ctx, userID, msg); err != nil {
			d.logger.Warn("push notification failed",
				"userId", userID, "messageId", msg.ID, "error", err)
		}
	}
}

// History returns stored messages for a conversation.
func (d *Dispatcher) History(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrInvalidRequest)
	}
	msgs, err := d.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return msgs, nil
}
