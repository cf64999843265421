// Package server coordinates client registration, pump lifecycle, and
// graceful shutdown for the WaveMeet gateway via the Gateway type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/wavemeet/internal/auth"
	"github.com/Tyrowin/wavemeet/internal/session"
)

// Gateway owns all live WebSocket clients. It registers authenticated
// connections with the session core, launches their read/write pumps,
// and runs the disconnect transaction when a connection goes away.
type Gateway struct {
	core     *session.Core
	verifier *auth.Verifier

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewGateway creates a Gateway over the given session core and token
// verifier. Call Run in a separate goroutine before serving traffic.
func NewGateway(core *session.Core, verifier *auth.Verifier, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		core:       core,
		verifier:   verifier,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the gateway's main event loop, handling client registration and
// unregistration. It runs until Shutdown and should be called in its own
// goroutine.
func (g *Gateway) Run() {
	defer close(g.done)

	for {
		select {
		case <-g.ctx.Done():
			g.shutdownClients()
			return

		case client := <-g.register:
			if client == nil {
				g.logger.Warn("received nil client registration; skipping")
				continue
			}

			g.mutex.Lock()
			g.clients[client] = true
			clientCount := len(g.clients)
			g.mutex.Unlock()

			g.core.Connect(client)
			g.logger.Info("client registered",
				"connId", client.ID(), "userId", client.UserID(), "clients", clientCount)

			g.wg.Add(2)
			go func() {
				defer g.wg.Done()
				client.writePump()
			}()
			go func() {
				defer g.wg.Done()
				client.readPump()
			}()

		case client := <-g.unregister:
			g.mutex.Lock()
			if _, ok := g.clients[client]; !ok {
				g.mutex.Unlock()
				continue
			}
			delete(g.clients, client)
			clientCount := len(g.clients)
			g.mutex.Unlock()

			// Mark closed before closing the channel so concurrent
			// core fan-out fails fast instead of panicking.
			client.markClosed()
			close(client.send)
			g.core.Disconnect(client)
			g.logger.Info("client unregistered",
				"connId", client.ID(), "userId", client.UserID(), "clients", clientCount)
		}
	}
}

// shutdownClients closes every active client connection.
func (g *Gateway) shutdownClients() {
	g.logger.Info("closing all client connections")

	g.mutex.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for client := range g.clients {
		clients = append(clients, client)
	}
	g.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				g.logger.Warn("closing client connection failed",
					"connId", client.ID(), "error", err)
			}
		}
	}

	g.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the gateway and waits for all
// pump goroutines to finish, or until the timeout is reached.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.logger.Info("initiating gateway shutdown")

	g.cancel()
	<-g.done

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("gateway shutdown completed")
		return nil
	case <-time.After(timeout):
		g.logger.Warn("gateway shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
