package session

import (
	"sync/atomic"
	"testing"
)

func TestMarkOnlineBroadcastsOnce(t *testing.T) {
	registry := NewRegistry(testLogger())
	presence := NewPresence(registry, testLogger())

	observer := newFakeConn("conn-1", "bob")
	registry.Register(observer)

	presence.MarkOnline("alice")
	presence.MarkOnline("alice")

	if got := observer.countEvents(EventPresenceChanged); got != 1 {
		t.Errorf("Expected exactly 1 presence event for repeated MarkOnline, got %d", got)
	}
	event, _ := observer.lastEvent(EventPresenceChanged)
	payload, ok := event.data.(PresenceEvent)
	if !ok {
		t.Fatalf("Expected PresenceEvent payload, got %T", event.data)
	}
	if payload.UserID != "alice" || !payload.Online {
		t.Errorf("Expected online event for alice, got %+v", payload)
	}
}

func TestMarkOfflineRequiresAnnouncedOnline(t *testing.T) {
	registry := NewRegistry(testLogger())
	presence := NewPresence(registry, testLogger())

	observer := newFakeConn("conn-1", "bob")
	registry.Register(observer)

	presence.MarkOffline("alice")
	if got := observer.countEvents(EventPresenceChanged); got != 0 {
		t.Errorf("Expected no event for offline of an unannounced identity, got %d", got)
	}

	presence.MarkOnline("alice")
	presence.MarkOffline("alice")
	presence.MarkOffline("alice")
	if got := observer.countEvents(EventPresenceChanged); got != 2 {
		t.Errorf("Expected online+offline pair exactly once, got %d events", got)
	}
}

func TestReconnectDuringDisconnectStaysOnline(t *testing.T) {
	registry := NewRegistry(testLogger())
	presence := NewPresence(registry, testLogger())

	observer := newFakeConn("conn-0", "bob")
	registry.Register(observer)

	old := newFakeConn("conn-1", "alice")
	registry.Register(old)
	presence.MarkOnline("alice")

	// The old connection unregisters as the identity's last, but a
	// replacement registers before the offline announcement runs.
	if userID, last := registry.Unregister(old); userID != "alice" || !last {
		t.Fatalf("Expected (alice, true) from unregister, got (%q, %v)", userID, last)
	}
	replacement := newFakeConn("conn-2", "alice")
	if !registry.Register(replacement) {
		t.Fatal("Expected replacement to be the identity's first connection")
	}
	presence.MarkOnline("alice")

	// The stale offline announcement observes the live connection and
	// stays silent.
	presence.MarkOffline("alice")

	aliceEvents := 0
	var lastEvent PresenceEvent
	observer.mu.Lock()
	for _, e := range observer.events {
		if e.event != EventPresenceChanged {
			continue
		}
		if p := e.data.(PresenceEvent); p.UserID == "alice" {
			aliceEvents++
			lastEvent = p
		}
	}
	observer.mu.Unlock()
	if aliceEvents != 1 || !lastEvent.Online {
		t.Fatalf("Expected a single online announcement, got %d events, last %+v", aliceEvents, lastEvent)
	}

	// The announced state is not desynced: when the replacement really
	// goes away the offline transition still fires exactly once.
	registry.Unregister(replacement)
	presence.MarkOffline("alice")

	event, ok := observer.lastEvent(EventPresenceChanged)
	if !ok {
		t.Fatal("Expected an offline announcement after the real disconnect")
	}
	if p := event.data.(PresenceEvent); p.UserID != "alice" || p.Online {
		t.Errorf("Expected offline announcement for alice, got %+v", p)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	registry := NewRegistry(testLogger())
	presence := NewPresence(registry, testLogger())

	var seen atomic.Int32
	unsubscribe := presence.Subscribe(func(PresenceEvent) {
		seen.Add(1)
	})

	presence.MarkOnline("alice")
	if seen.Load() != 1 {
		t.Errorf("Expected handler to observe 1 transition, got %d", seen.Load())
	}

	unsubscribe()
	presence.MarkOffline("alice")
	if seen.Load() != 1 {
		t.Errorf("Expected no transitions after unsubscribe, got %d", seen.Load())
	}
}

func TestPanickingHandlerDoesNotAbortBroadcast(t *testing.T) {
	registry := NewRegistry(testLogger())
	presence := NewPresence(registry, testLogger())

	var seen atomic.Int32
	presence.Subscribe(func(PresenceEvent) {
		panic("handler failure")
	})
	presence.Subscribe(func(PresenceEvent) {
		seen.Add(1)
	})

	presence.MarkOnline("alice")
	if seen.Load() != 1 {
		t.Errorf("Expected surviving handler to observe the transition, got %d", seen.Load())
	}
}
