// Package server exposes HTTP handlers: the authenticated WebSocket
// upgrade and the health check.
package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler authenticates the handshake, upgrades the HTTP
// connection, and registers the resulting client with the gateway. A
// bad or missing credential refuses the connection before it is ever
// registered.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	credential := bearerToken(r)
	if credential == "" {
		http.Error(w, "Missing credential", http.StatusUnauthorized)
		return
	}
	identity, err := g.verifier.Verify(credential)
	if err != nil {
		g.logger.Warn("handshake rejected", "addr", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, g, identity, r.RemoteAddr)

	// Hand off to the gateway loop; it launches the pump goroutines.
	// A handshake that lands during shutdown finds no loop to hand off
	// to, so close the socket instead of parking the handler.
	select {
	case g.register <- client:
	case <-g.ctx.Done():
		g.logger.Info("refusing connection during shutdown", "connId", client.ID())
		conn.Close()
	}
}

// bearerToken extracts the credential from the Authorization header,
// falling back to the token query parameter for browser WebSocket
// clients that cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// HealthHandler provides a simple health check endpoint that reports
// server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "WaveMeet server is running!")
}
