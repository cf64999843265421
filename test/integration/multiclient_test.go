package integration

import (
	"encoding/json"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/wavemeet/internal/server"
	"github.com/Tyrowin/wavemeet/internal/session"
	"github.com/Tyrowin/wavemeet/test/testhelpers"
)

func TestCallSignalingBetweenClients(t *testing.T) {
	fixture := testhelpers.StartGateway(t, nil)

	alice := fixture.Dial(t, "user-1", "alice")
	bob := fixture.Dial(t, "user-2", "bob")
	testhelpers.WaitForEvent(t, bob, "presence.changed", eventTimeout)

	testhelpers.SendEvent(t, alice, "call.initiate", server.CallInitiatePayload{
		CalleeID: "user-2",
		CallType: "video",
	})

	var incoming session.CallIncomingEvent
	payload := testhelpers.WaitForEvent(t, bob, "call.incoming", eventTimeout)
	if err := json.Unmarshal(payload, &incoming); err != nil {
		t.Fatalf("Failed to unmarshal call.incoming: %v", err)
	}
	if incoming.CallerID != "user-1" || incoming.CallType != "video" || incoming.CallID == "" {
		t.Fatalf("Unexpected incoming call: %+v", incoming)
	}
	testhelpers.WaitForEvent(t, alice, "call.initiated", eventTimeout)

	testhelpers.SendEvent(t, bob, "call.accept", server.CallActionPayload{CallID: incoming.CallID})

	var accepted session.CallAcceptedEvent
	payload = testhelpers.WaitForEvent(t, alice, "call.accepted", eventTimeout)
	if err := json.Unmarshal(payload, &accepted); err != nil {
		t.Fatalf("Failed to unmarshal call.accepted: %v", err)
	}
	if accepted.CallID != incoming.CallID || accepted.AcceptedBy != "user-2" {
		t.Errorf("Unexpected accept notification: %+v", accepted)
	}
	testhelpers.WaitForEvent(t, bob, "call.accepted-confirmed", eventTimeout)

	// WebRTC negotiation payloads pass through opaque.
	testhelpers.SendEvent(t, alice, "call.signal", server.CallSignalPayload{
		CallID: incoming.CallID,
		To:     "user-2",
		Signal: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	var signal session.CallSignalEvent
	payload = testhelpers.WaitForEvent(t, bob, "call.signal", eventTimeout)
	if err := json.Unmarshal(payload, &signal); err != nil {
		t.Fatalf("Failed to unmarshal call.signal: %v", err)
	}
	if signal.From != "user-1" || string(signal.Signal) != `{"type":"offer","sdp":"v=0"}` {
		t.Errorf("Unexpected relayed signal: %+v", signal)
	}

	testhelpers.SendEvent(t, alice, "call.mute-audio", server.CallActionPayload{CallID: incoming.CallID})
	testhelpers.WaitForEvent(t, bob, "call.audio-muted", eventTimeout)

	testhelpers.SendEvent(t, alice, "call.end", server.CallActionPayload{CallID: incoming.CallID})
	var ended session.CallEndedEvent
	payload = testhelpers.WaitForEvent(t, bob, "call.ended", eventTimeout)
	if err := json.Unmarshal(payload, &ended); err != nil {
		t.Fatalf("Failed to unmarshal call.ended: %v", err)
	}
	if ended.CallID != incoming.CallID || ended.EndedBy != "user-1" {
		t.Errorf("Unexpected end notification: %+v", ended)
	}
	testhelpers.WaitForEvent(t, alice, "call.ended", eventTimeout)

	summaries := fixture.Store.RecordedCalls()
	if len(summaries) != 1 {
		t.Fatalf("Expected 1 recorded call, got %d", len(summaries))
	}
	if summaries[0].Status != "ended" || summaries[0].CallerID != "user-1" || summaries[0].CalleeID != "user-2" {
		t.Errorf("Unexpected call summary: %+v", summaries[0])
	}
}

func TestCallRejection(t *testing.T) {
	fixture := testhelpers.StartGateway(t, nil)

	alice := fixture.Dial(t, "user-1", "alice")
	bob := fixture.Dial(t, "user-2", "bob")
	testhelpers.WaitForEvent(t, bob, "presence.changed", eventTimeout)

	testhelpers.SendEvent(t, alice, "call.initiate", server.CallInitiatePayload{
		CalleeID: "user-2",
		CallType: "audio",
	})

	var incoming session.CallIncomingEvent
	payload := testhelpers.WaitForEvent(t, bob, "call.incoming", eventTimeout)
	if err := json.Unmarshal(payload, &incoming); err != nil {
		t.Fatalf("Failed to unmarshal call.incoming: %v", err)
	}

	testhelpers.SendEvent(t, bob, "call.reject", server.CallActionPayload{
		CallID: incoming.CallID,
		Reason: "busy",
	})

	var rejected session.CallRejectedEvent
	payload = testhelpers.WaitForEvent(t, alice, "call.rejected", eventTimeout)
	if err := json.Unmarshal(payload, &rejected); err != nil {
		t.Fatalf("Failed to unmarshal call.rejected: %v", err)
	}
	if rejected.RejectedBy != "user-2" || rejected.Reason != "busy" {
		t.Errorf("Unexpected rejection: %+v", rejected)
	}
}

func TestDisconnectEndsActiveCall(t *testing.T) {
	fixture := testhelpers.StartGateway(t, nil)

	alice := fixture.Dial(t, "user-1", "alice")
	bob := fixture.Dial(t, "user-2", "bob")
	testhelpers.WaitForEvent(t, bob, "presence.changed", eventTimeout)

	testhelpers.SendEvent(t, alice, "call.initiate", server.CallInitiatePayload{
		CalleeID: "user-2",
		CallType: "audio",
	})
	var incoming session.CallIncomingEvent
	payload := testhelpers.WaitForEvent(t, bob, "call.incoming", eventTimeout)
	if err := json.Unmarshal(payload, &incoming); err != nil {
		t.Fatalf("Failed to unmarshal call.incoming: %v", err)
	}
	testhelpers.SendEvent(t, bob, "call.accept", server.CallActionPayload{CallID: incoming.CallID})
	testhelpers.WaitForEvent(t, alice, "call.accepted", eventTimeout)

	// Dropping the caller's connection ends the call for everyone.
	if err := alice.Close(); err != nil {
		t.Fatalf("Failed to close connection: %v", err)
	}
	testhelpers.WaitForEvent(t, bob, "call.ended", eventTimeout)
}

func TestMultipleClientsReceiveBroadcast(t *testing.T) {
	fixture := testhelpers.StartGateway(t, nil)
	fixture.Store.SetParticipants("conv-1", "user-1", "user-2", "user-3")

	clients := map[string]*websocket.Conn{
		"user-1": fixture.Dial(t, "user-1", "alice"),
		"user-2": fixture.Dial(t, "user-2", "bob"),
		"user-3": fixture.Dial(t, "user-3", "carol"),
	}
	for _, conn := range clients {
		joinConversation(t, conn, "conv-1")
	}

	testhelpers.SendEvent(t, clients["user-1"], "message.send", server.MessageSendPayload{
		ConversationID: "conv-1",
		Content:        "fan out",
	})

	for userID, conn := range clients {
		var msg session.Message
		payload := testhelpers.WaitForEvent(t, conn, "message.received", eventTimeout)
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message for %s: %v", userID, err)
		}
		if msg.Content != "fan out" {
			t.Errorf("Unexpected message for %s: %+v", userID, msg)
		}
	}
}
