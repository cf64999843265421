package session

import (
	"log/slog"
	"sync"
)

// Registry maps authenticated identities to their live connections. A
// user may hold several simultaneous connections (multi-device); a
// connection appears under exactly one identity. All mutations go through
// a single authoritative mutex so that a race between "last connection
// closing" and "new connection opening" can never produce a stale
// offline transition.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Conn
	byConn map[string]string
	logger *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byUser: make(map[string]map[string]Conn),
		byConn: make(map[string]string),
		logger: logger,
	}
}

// Register adds a connection under its identity. It reports whether this
// is the identity's first live connection, i.e. an offline-to-online
// transition.
func (r *Registry) Register(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := conn.UserID()
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]Conn)
		r.byUser[userID] = conns
	}
	conns[conn.ID()] = conn
	r.byConn[conn.ID()] = userID

	r.logger.Debug("connection registered",
		"connId", conn.ID(), "userId", userID, "connections", len(conns))
	return len(conns) == 1
}

// Unregister removes a connection. It returns the owning identity and
// whether this was the identity's last connection. Unknown connections
// are a no-op and return an empty identity.
func (r *Registry) Unregister(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())

	conns := r.byUser[userID]
	delete(conns, conn.ID())
	last := len(conns) == 0
	if last {
		delete(r.byUser, userID)
	}

	r.logger.Debug("connection unregistered",
		"connId", conn.ID(), "userId", userID, "last", last)
	return userID, last
}

// ConnectionsFor returns a snapshot of the identity's live connections.
// The result is empty when the identity is offline.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns a snapshot of all identities with at least one
// live connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	return users
}

// AllConnections returns a snapshot of every live connection. Used for
// global broadcasts such as presence transitions.
func (r *Registry) AllConnections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.byConn))
	for _, userConns := range r.byUser {
		for _, c := range userConns {
			conns = append(conns, c)
		}
	}
	return conns
}
