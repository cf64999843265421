package session

import (
	"log/slog"
	"sync"
)

// PresenceHandler consumes presence transitions. Handlers run on the
// goroutine that triggered the transition; a panicking handler is
// recovered and logged so presence bookkeeping is never aborted.
type PresenceHandler func(PresenceEvent)

// Presence publishes online/offline transitions for identities. It is
// driven exclusively by the registry's register/unregister path and is
// idempotent: announcing an identity already in the announced state is a
// no-op with respect to downstream broadcast.
type Presence struct {
	registry *Registry
	logger   *slog.Logger

	mu        sync.Mutex
	announced map[string]bool
	handlers  map[int]PresenceHandler
	nextID    int
}

// NewPresence creates a presence tracker over the given registry.
func NewPresence(registry *Registry, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		registry:  registry,
		logger:    logger,
		announced: make(map[string]bool),
		handlers:  make(map[int]PresenceHandler),
	}
}

// Subscribe registers a handler for presence transitions and returns a
// function that removes it. Subscription lifetime is the caller's
// responsibility; transport code ties it to connection lifetime.
func (p *Presence) Subscribe(handler PresenceHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
	}
}

// MarkOnline records that an identity came online and broadcasts the
// transition. Calling it for an identity already announced online does
// not re-broadcast.
func (p *Presence) MarkOnline(userID string) {
	p.mu.Lock()
	if p.announced[userID] {
		p.mu.Unlock()
		return
	}
	p.announced[userID] = true
	p.mu.Unlock()

	p.publish(PresenceEvent{UserID: userID, Online: true})
}

// MarkOffline records that an identity went offline and broadcasts the
// transition. A no-op for identities not announced online, and for
// identities the registry still shows online: a replacement connection
// may register between a closing connection's unregister and its
// offline announcement, and the stale announcement must not fire.
func (p *Presence) MarkOffline(userID string) {
	p.mu.Lock()
	if !p.announced[userID] {
		p.mu.Unlock()
		return
	}
	if p.registry.IsOnline(userID) {
		p.mu.Unlock()
		return
	}
	delete(p.announced, userID)
	p.mu.Unlock()

	p.publish(PresenceEvent{UserID: userID, Online: false})
}

// publish fans the event out to every live connection and every
// subscribed handler. Individual delivery failures are logged and
// skipped.
func (p *Presence) publish(event PresenceEvent) {
	for _, conn := range p.registry.AllConnections() {
		if err := conn.Send(EventPresenceChanged, event); err != nil {
			p.logger.Warn("presence broadcast failed",
				"connId", conn.ID(), "userId", event.UserID, "error", err)
		}
	}

	p.mu.Lock()
	handlers := make([]PresenceHandler, 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, handler := range handlers {
		p.invoke(handler, event)
	}
}

func (p *Presence) invoke(handler PresenceHandler, event PresenceEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("presence handler panic", "userId", event.UserID, "panic", r)
		}
	}()
	handler(event)
}
