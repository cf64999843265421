// Package server defines the JSON wire protocol exchanged with clients:
// an event envelope plus the inbound payload shapes.
package server

import "encoding/json"

// Inbound event names accepted from clients.
const (
	eventJoin  = "join"
	eventLeave = "leave"

	eventMessageSend     = "message.send"
	eventMessageHistory  = "message.history"
	eventConversations   = "conversation.list"
	eventPresenceList    = "presence.list"
	eventPresenceOnline  = "presence.setOnline"
	eventPresenceOffline = "presence.setOffline"

	eventTypingStart = "typing.start"
	eventTypingStop  = "typing.stop"

	eventCallInitiate    = "call.initiate"
	eventCallAccept      = "call.accept"
	eventCallReject      = "call.reject"
	eventCallEnd         = "call.end"
	eventCallSignal      = "call.signal"
	eventCallMuteAudio   = "call.mute-audio"
	eventCallUnmuteAudio = "call.unmute-audio"
	eventCallMuteVideo   = "call.mute-video"
	eventCallUnmuteVideo = "call.unmute-video"
	eventCallScreenShare = "call.screen-share"

	eventError = "error"
)

// Envelope is the frame exchanged in both directions: an event name and
// an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeEvent wraps a payload in an envelope and marshals it for the
// wire.
func encodeEvent(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// ConversationPayload addresses a conversation for join/leave/typing.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessageSendPayload carries an outbound chat message.
type MessageSendPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	MediaRef       string `json:"mediaRef,omitempty"`
}

// HistoryPayload requests stored messages for a conversation.
type HistoryPayload struct {
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// HistoryReply answers a history request.
type HistoryReply struct {
	ConversationID string `json:"conversationId"`
	Messages       any    `json:"messages"`
}

// ConversationsReply answers a conversation listing request.
type ConversationsReply struct {
	Conversations []string `json:"conversations"`
}

// PresenceListReply answers a presence snapshot request.
type PresenceListReply struct {
	Users []string `json:"users"`
}

// CallInitiatePayload starts a call to a callee.
type CallInitiatePayload struct {
	CalleeID       string `json:"calleeId"`
	CallType       string `json:"callType"`
	ConversationID string `json:"conversationId,omitempty"`
}

// CallActionPayload addresses an existing call for accept/reject/end and
// media-state events.
type CallActionPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// CallSignalPayload relays an opaque signaling payload to a participant.
type CallSignalPayload struct {
	CallID string          `json:"callId"`
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// ErrorPayload reports a request failure to the originating connection
// only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
