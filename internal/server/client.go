// Package server manages individual WebSocket clients, handling
// read/write pumps, rate limiting, and lifecycle control for each
// authenticated connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/wavemeet/internal/auth"
	"github.com/Tyrowin/wavemeet/internal/session"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second

	// requestTimeout bounds a single inbound event's storage work.
	requestTimeout = 10 * time.Second
)

// errConnClosed is returned from Send once the client has been
// unregistered.
var errConnClosed = errors.New("connection closed")

// errSendBufferFull is returned from Send when the client's outbound
// buffer cannot accept another event.
var errSendBufferFull = errors.New("send buffer full")

// Client represents an authenticated WebSocket connection. It implements
// session.Conn so the core can address it directly, and owns the read
// and write pumps for the underlying socket.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	gw       *Gateway
	id       string
	identity auth.Identity
	addr     string

	mu     sync.Mutex
	closed bool

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	logger         *slog.Logger
}

// NewClient creates a Client for an upgraded connection. The send
// channel is buffered so slow readers do not stall core fan-out.
func NewClient(conn *websocket.Conn, gw *Gateway, identity auth.Identity, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		conn:           conn,
		send:           make(chan []byte, 256),
		gw:             gw,
		id:             id,
		identity:       identity,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		logger:         gw.logger.With("connId", id, "userId", identity.UserID, "addr", addr),
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated identity that opened the connection.
func (c *Client) UserID() string { return c.identity.UserID }

// Send queues an outbound event for the write pump. It never blocks: a
// closed connection or a full buffer returns an error that the core
// logs and skips.
func (c *Client) Send(event string, data any) error {
	payload, err := encodeEvent(event, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// markClosed flips the client into the closed state so late Sends fail
// instead of racing the send channel's close.
func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// sendError reports a request failure to this connection only.
func (c *Client) sendError(err error) {
	payload := ErrorPayload{Code: errorCode(err), Message: err.Error()}
	if sendErr := c.Send(eventError, payload); sendErr != nil {
		c.logger.Warn("error delivery failed", "error", sendErr)
	}
}

// errorCode maps core errors onto wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, session.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, session.ErrPersistence):
		return "persistence_error"
	case errors.Is(err, session.ErrCallNotFound):
		return "call_not_found"
	case errors.Is(err, session.ErrInvalidCallState):
		return "invalid_call_state"
	default:
		return "internal"
	}
}

// setupReadConnection configures read deadlines and a pong handler for
// the WebSocket connection.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("setting initial read deadline failed", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("setting read deadline in pong handler failed", "error", err)
		}
		return nil
	})
}

// handleReadError logs the error and reports whether the read loop
// should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("inbound frame exceeded maximum size", "maxBytes", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Info("client disconnected", "error", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Info("client connection closed", "error", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn("unexpected WebSocket error", "error", err)
		return true
	}

	c.logger.Warn("WebSocket read error", "error", err)
	return true
}

// checkRateLimit reports whether the inbound event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn("rate limit exceeded; discarding event",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		// During gateway shutdown the Run loop is gone; skip the
		// handoff instead of blocking on it.
		select {
		case c.gw.unregister <- c:
		case <-c.gw.ctx.Done():
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Warn("closing connection in readPump failed", "error", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.dispatch(rawMessage)
	}
}

// dispatch decodes an inbound envelope and routes it to the session
// core. Failures are reported to this connection only; no inbound event
// is ever fatal.
func (c *Client) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError(session.ErrInvalidRequest)
		return
	}

	core := c.gw.core
	switch env.Event {
	case eventJoin:
		var p ConversationPayload
		if err := c.decode(env.Data, &p); err != nil {
			return
		}
		if err := core.Join(c, p.ConversationID); err != nil {
			c.sendError(err)
		}

	case eventLeave:
		var p ConversationPayload
		if err := c.decode(env.Data, &p); err != nil {
			return
		}
		if err := core.Leave(c, p.ConversationID); err != nil {
			c.sendError(err)
		}

	case eventMessageSend:
		var p MessageSendPayload
		if err := c.decode(env.Data, &p); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := core.Dispatcher.Send(ctx, p.ConversationID, c.UserID(), p.Content, p.MediaRef); err != nil {
			c.sendError(err)
		}

	case eventMessageHistory:
		var p HistoryPayload
		if err := c.decode(env.Data, &p); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		messages, err := core.Dispatcher.History(ctx, p.ConversationID, p.Limit, p.Offset)
		if err != nil {
			c.sendError(err)
			return
		}
		c.reply(eventMessageHistory, HistoryReply{ConversationID: p.ConversationID, Messages: messages})

	case eventConversations:
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		conversations, err := core.Conversations(ctx, c.UserID())
		if err != nil {
			c.sendError(err)
			return
		}
		c.reply(eventConversations, ConversationsReply{Conversations: conversations})

	case eventPresenceList:
		c.reply(eventPresenceList, PresenceListReply{Users: core.OnlineUsers()})

	case eventPresenceOnline:
		core.Presence.MarkOnline(c.UserID())

	case eventPresenceOffline:
		core.Presence.MarkOffline(c.UserID())

	case eventTypingStart:
		var p ConversationPayload
		if err := c.decode(env.Data, &p); err != nil {
			return
		}
		core.Typing.Start(p.ConversationID, c.UserID())

	case eventTypingStop:
		var p ConversationPayload
		if err := c.decode(env.Data, &p); err != nil {
			return
		}
		core.Typing.Stop(p.ConversationID, c.UserID())

	case eventCallInitiate:
		var p CallInitiatePayload
		if err := c.decode(env.Data, &p); err != nil {
			return
		}
		if _, err := core.Calls.Initiate(c.UserID(), p.CalleeID, p.CallType, p.ConversationID); err != nil {
			c.sendError(err)
		}

	case eventCallAccept:
		c.callAction(env.Data, core.Calls.Accept)

	case eventCallReject:
		var p CallActionPayload
		if err := c.decode(env.Data, &p); err != nil {
			return
		}
		if err := core.Calls.Reject(p.CallID, c.UserID(), p.Reason); err != nil {
			c.sendError(err)
		}

	case eventCallEnd:
		c.callAction(env.Data, core.Calls.End)

	case eventCallSignal:
		var p CallSignalPayload
		if err := c.decode(env.Data, &p); err != nil {
			return
		}
		if err := core.Calls.RelaySignal(p.CallID, c.UserID(), p.To, p.Signal); err != nil {
			c.sendError(err)
		}

	case eventCallMuteAudio:
		c.callAction(env.Data, core.Calls.MuteAudio)
	case eventCallUnmuteAudio:
		c.callAction(env.Data, core.Calls.UnmuteAudio)
	case eventCallMuteVideo:
		c.callAction(env.Data, core.Calls.MuteVideo)
	case eventCallUnmuteVideo:
		c.callAction(env.Data, core.Calls.UnmuteVideo)
	case eventCallScreenShare:
		c.callAction(env.Data, core.Calls.ScreenShare)

	default:
		c.logger.Warn("unknown inbound event", "event", env.Event)
		c.sendError(session.ErrInvalidRequest)
	}
}

// callAction decodes a call-addressed payload and invokes a (callID,
// userID) operation on the call manager.
func (c *Client) callAction(data json.RawMessage, op func(callID, userID string) error) {
	var p CallActionPayload
	if err := c.decode(data, &p); err != nil {
		return
	}
	if err := op(p.CallID, c.UserID()); err != nil {
		c.sendError(err)
	}
}

// decode unmarshals an inbound payload, reporting malformed data to the
// sender.
func (c *Client) decode(data json.RawMessage, dest any) error {
	if len(data) == 0 {
		c.sendError(session.ErrInvalidRequest)
		return session.ErrInvalidRequest
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.sendError(session.ErrInvalidRequest)
		return err
	}
	return nil
}

// reply sends a request-scoped response back to this connection.
func (c *Client) reply(event string, data any) {
	if err := c.Send(event, data); err != nil {
		c.logger.Warn("reply delivery failed", "event", event, "error", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false
// when the pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleOutbound(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.gw.ctx.Done():
		c.writeCloseMessage()
		return false
	}
}

// closeConnection closes the socket, logging only unexpected errors.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("closing connection in writePump failed", "error", err)
		}
	}
}

// handleOutbound writes a queued frame and returns false if the
// connection should be closed.
func (c *Client) handleOutbound(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("setting write deadline failed", "error", err)
		return false
	}

	if !ok {
		c.writeCloseMessage()
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("writing frame failed", "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage tells the peer the server is closing the connection.
func (c *Client) writeCloseMessage() {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("writing close message failed", "error", err)
		}
	}
}

// handlePing keeps the connection alive between outbound frames.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("setting write deadline for ping failed", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("writing ping failed", "error", err)
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is routine during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
