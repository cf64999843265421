package session

import (
	"encoding/json"
	"time"
)

// Outbound event names. The transport layer wraps the payloads below in
// its wire envelope under these names.
const (
	EventMessageReceived = "message.received"

	EventTypingStart = "typing.start"
	EventTypingStop  = "typing.stop"

	EventPresenceChanged = "presence.changed"

	EventCallIncoming           = "call.incoming"
	EventCallInitiated          = "call.initiated"
	EventCallAccepted           = "call.accepted"
	EventCallAcceptedConfirmed  = "call.accepted-confirmed"
	EventCallRejected           = "call.rejected"
	EventCallEnded              = "call.ended"
	EventCallSignal             = "call.signal"
	EventCallAudioMuted         = "call.audio-muted"
	EventCallAudioUnmuted       = "call.audio-unmuted"
	EventCallVideoMuted         = "call.video-muted"
	EventCallVideoUnmuted       = "call.video-unmuted"
	EventCallScreenShareStarted = "call.screen-share-started"
)

// Message is a persisted chat message. The durable copy belongs to the
// storage collaborator; the core holds it only transiently during fan-out.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	MediaRef       string    `json:"mediaRef,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// PresenceEvent announces an online/offline transition for an identity.
type PresenceEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// TypingEvent announces a typing edge transition in a conversation.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// CallIncomingEvent rings a callee's connections.
type CallIncomingEvent struct {
	CallID         string `json:"callId"`
	CallerID       string `json:"callerId"`
	CallType       string `json:"callType"`
	ConversationID string `json:"conversationId,omitempty"`
}

// CallInitiatedEvent acknowledges call creation to the caller.
type CallInitiatedEvent struct {
	CallID string `json:"callId"`
}

// CallAcceptedEvent notifies the caller that the callee picked up.
type CallAcceptedEvent struct {
	CallID     string `json:"callId"`
	AcceptedBy string `json:"acceptedBy"`
}

// CallRejectedEvent notifies the caller of a rejection. RejectedBy is
// empty for system-initiated rejections (ring timeout).
type CallRejectedEvent struct {
	CallID     string `json:"callId"`
	RejectedBy string `json:"rejectedBy,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// CallEndedEvent notifies all participants that the call is over.
type CallEndedEvent struct {
	CallID   string `json:"callId"`
	Duration int64  `json:"duration"`
	EndedBy  string `json:"endedBy,omitempty"`
}

// CallSignalEvent relays an opaque signaling payload between call
// participants. The core never interprets Signal.
type CallSignalEvent struct {
	CallID string          `json:"callId"`
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// CallStateEvent announces a media-state change (mute, screen share)
// that does not alter the call's lifecycle state.
type CallStateEvent struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

// CallSummary is handed to the call-history collaborator after a call
// reaches a terminal state.
type CallSummary struct {
	CallID         string    `json:"callId"`
	CallerID       string    `json:"callerId"`
	CalleeID       string    `json:"calleeId"`
	CallType       string    `json:"callType"`
	ConversationID string    `json:"conversationId,omitempty"`
	Status         string    `json:"status"`
	Duration       int64     `json:"duration"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
}
