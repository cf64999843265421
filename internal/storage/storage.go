// Package storage implements the durable-storage collaborators of the
// session core over SQLite: message persistence and history, conversation
// participation, and call history.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/Tyrowin/wavemeet/internal/session"
)

const defaultListLimit = 50

// Store persists messages, conversation membership, and call history in
// a SQLite database. It implements session.Store and session.CallRecorder.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time; a single pooled connection
	// also keeps in-memory databases coherent across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		media_ref TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages (conversation_id, id);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS call_history (
		call_id TEXT PRIMARY KEY,
		caller_id TEXT NOT NULL,
		callee_id TEXT NOT NULL,
		call_type TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		duration INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// AppendMessage persists a message with a server-assigned ULID and
// timestamp and returns the stored copy. ULIDs sort by creation time, so
// message ids order exactly as persistence completed.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, content, mediaRef string) (session.Message, error) {
	msg := session.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MediaRef:       mediaRef,
		CreatedAt:      time.Now().UTC(),
	}

	query := `INSERT INTO messages (id, conversation_id, sender_id, content, media_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.MediaRef, msg.CreatedAt); err != nil {
		return session.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages for a conversation in persisted order.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]session.Message, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, conversation_id, sender_id, content, media_ref, created_at
		FROM messages WHERE conversation_id = ? ORDER BY id ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []session.Message
	for rows.Next() {
		var msg session.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID,
			&msg.Content, &msg.MediaRef, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages for %s: %w", conversationID, err)
	}
	return messages, nil
}

// ListConversationsFor returns the ids of every conversation the user
// participates in.
func (s *Store) ListConversationsFor(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT conversation_id FROM conversation_participants WHERE user_id = ? ORDER BY conversation_id`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations for %s: %w", userID, err)
	}
	defer rows.Close()

	var conversations []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		conversations = append(conversations, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations for %s: %w", userID, err)
	}
	return conversations, nil
}

// Participants returns the identities participating in a conversation.
func (s *Store) Participants(ctx context.Context, conversationID string) ([]string, error) {
	query := `SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants for %s: %w", conversationID, err)
	}
	return participants, nil
}

// AddParticipant records that a user participates in a conversation.
// Adding an existing participant is a no-op.
func (s *Store) AddParticipant(ctx context.Context, conversationID, userID string) error {
	query := `INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, conversationID, userID); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// RecordCall stores the summary of a terminal call.
func (s *Store) RecordCall(ctx context.Context, summary session.CallSummary) error {
	query := `INSERT OR REPLACE INTO call_history
		(call_id, caller_id, callee_id, call_type, conversation_id, status, duration, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		summary.CallID, summary.CallerID, summary.CalleeID, summary.CallType,
		summary.ConversationID, summary.Status, summary.Duration,
		summary.StartedAt, summary.EndedAt); err != nil {
		return fmt.Errorf("insert call history: %w", err)
	}
	return nil
}

// ListCalls returns the most recent call summaries involving the user.
func (s *Store) ListCalls(ctx context.Context, userID string, limit int) ([]session.CallSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT call_id, caller_id, callee_id, call_type, conversation_id, status, duration, started_at, ended_at
		FROM call_history WHERE caller_id = ? OR callee_id = ?
		ORDER BY started_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query call history for %s: %w", userID, err)
	}
	defer rows.Close()

	var calls []session.CallSummary
	for rows.Next() {
		var c session.CallSummary
		if err := rows.Scan(&c.CallID, &c.CallerID, &c.CalleeID, &c.CallType,
			&c.ConversationID, &c.Status, &c.Duration, &c.StartedAt, &c.EndedAt); err != nil {
			return nil, fmt.Errorf("scan call summary: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call history for %s: %w", userID, err)
	}
	return calls, nil
}
