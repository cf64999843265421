package session

import (
	"log/slog"
	"sync"
)

// Rooms tracks which connections are subscribed to which conversation's
// real-time events. Join and leave are idempotent; a connection's entire
// membership is cleared in one step on disconnect so no stale membership
// survives a closed connection.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]Conn
	joined  map[string]map[string]struct{}
	logger  *slog.Logger
}

// NewRooms creates an empty room router.
func NewRooms(logger *slog.Logger) *Rooms {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rooms{
		members: make(map[string]map[string]Conn),
		joined:  make(map[string]map[string]struct{}),
		logger:  logger,
	}
}

// Join subscribes a connection to a conversation. Joining a conversation
// the connection is already in is a no-op.
func (r *Rooms) Join(conn Conn, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.members[conversationID]
	if !ok {
		room = make(map[string]Conn)
		r.members[conversationID] = room
	}
	room[conn.ID()] = conn

	convs, ok := r.joined[conn.ID()]
	if !ok {
		convs = make(map[string]struct{})
		r.joined[conn.ID()] = convs
	}
	convs[conversationID] = struct{}{}
}

// Leave unsubscribes a connection from a conversation. A no-op if the
// connection is not a member.
func (r *Rooms) Leave(conn Conn, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn.ID(), conversationID)
}

// LeaveAll clears every membership held by the connection. Called as
// part of the disconnect transaction.
func (r *Rooms) LeaveAll(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationID := range r.joined[conn.ID()] {
		r.leaveLocked(conn.ID(), conversationID)
	}
}

func (r *Rooms) leaveLocked(connID, conversationID string) {
	if room, ok := r.members[conversationID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.members, conversationID)
		}
	}
	if convs, ok := r.joined[connID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(r.joined, connID)
		}
	}
}

// MembersOf returns a snapshot of the connections subscribed to a
// conversation. Broadcast proceeds against the snapshot so fan-out never
// blocks joins and leaves.
func (r *Rooms) MembersOf(conversationID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.members[conversationID]
	conns := make([]Conn, 0, len(room))
	for _, c := range room {
		conns = append(conns, c)
	}
	return conns
}

// Conversations returns a snapshot of the conversation ids the
// connection is subscribed to.
func (r *Rooms) Conversations(conn Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	convs := make([]string, 0, len(r.joined[conn.ID()]))
	for id := range r.joined[conn.ID()] {
		convs = append(convs, id)
	}
	return convs
}
