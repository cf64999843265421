package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Call lifecycle states.
const (
	CallRinging  = "ringing"
	CallActive   = "active"
	CallEnded    = "ended"
	CallRejected = "rejected"
)

// Call types.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// RejectReasonTimeout marks a system-initiated rejection of a call that
// was still ringing when its timeout fired.
const RejectReasonTimeout = "timeout"

const (
	// DefaultRingTimeout is how long a call may ring before the manager
	// rejects it on the callee's behalf.
	DefaultRingTimeout = 30 * time.Second
	// DefaultEvictDelay is the grace period a terminal call stays
	// addressable so late-arriving UI acknowledgements still resolve.
	DefaultEvictDelay = 5 * time.Second

	recordTimeout = 5 * time.Second
)

// Call is a single voice or video session. All state transitions go
// through the call's own mutex and are precondition-checked against the
// current state, so of the racing accept/reject/timeout/disconnect paths
// only the first applicable transition wins; the rest observe a changed
// state and no-op.
type Call struct {
	mu sync.Mutex

	id             string
	callerID       string
	calleeID       string
	callType       string
	conversationID string

	state        string
	participants []string
	startedAt    time.Time
	acceptedAt   time.Time
	endedAt      time.Time
	rejectedBy   string
	reason       string
	endedBy      string

	ringTimer  *time.Timer
	evictTimer *time.Timer
}

// ID returns the call's identifier.
func (c *Call) ID() string { return c.id }

// State returns the call's current lifecycle state.
func (c *Call) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Participants returns a snapshot of the call's participant identities.
func (c *Call) Participants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.participants)
}

// Duration returns the active duration of a terminal call. Zero for
// calls that never reached the active state.
func (c *Call) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationLocked()
}

func (c *Call) durationLocked() time.Duration {
	if c.acceptedAt.IsZero() || c.endedAt.IsZero() {
		return 0
	}
	return c.endedAt.Sub(c.acceptedAt)
}

func (c *Call) terminalLocked() bool {
	return c.state == CallEnded || c.state == CallRejected
}

func (c *Call) summaryLocked() CallSummary {
	return CallSummary{
		CallID:         c.id,
		CallerID:       c.callerID,
		CalleeID:       c.calleeID,
		CallType:       c.callType,
		ConversationID: c.conversationID,
		Status:         c.state,
		Duration:       int64(c.durationLocked() / time.Second),
		StartedAt:      c.startedAt,
		EndedAt:        c.endedAt,
	}
}

// Calls owns every active call and its timers. Signaling targets
// identities through the registry directly (all of a user's connections
// ring), independent of room membership.
type Calls struct {
	registry *Registry
	recorder CallRecorder
	logger   *slog.Logger

	ringTimeout time.Duration
	evictDelay  time.Duration

	mu    sync.RWMutex
	calls map[string]*Call
}

// NewCalls creates a call session manager. Non-positive durations select
// the defaults.
func NewCalls(registry *Registry, recorder CallRecorder, ringTimeout, evictDelay time.Duration, logger *slog.Logger) *Calls {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	if evictDelay <= 0 {
		evictDelay = DefaultEvictDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Calls{
		registry:    registry,
		recorder:    recorder,
		logger:      logger,
		ringTimeout: ringTimeout,
		evictDelay:  evictDelay,
		calls:       make(map[string]*Call),
	}
}

// Get returns an active (or grace-period terminal) call by id.
func (m *Calls) Get(callID string) (*Call, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	call, ok := m.calls[callID]
	return call, ok
}

// Initiate creates a call in the ringing state, arms its ring timeout,
// and signals call.incoming to every one of the callee's connections.
func (m *Calls) Initiate(callerID, calleeID, callType, conversationID string) (string, error) {
	if calleeID == "" || (callType != CallTypeAudio && callType != CallTypeVideo) {
		return "", fmt.Errorf("%w: callee id and a call type of audio or video are required", ErrInvalidRequest)
	}

	call := &Call{
		id:             uuid.NewString(),
		callerID:       callerID,
		calleeID:       calleeID,
		callType:       callType,
		conversationID: conversationID,
		state:          CallRinging,
		participants:   []string{callerID},
		startedAt:      time.Now(),
	}
	call.ringTimer = time.AfterFunc(m.ringTimeout, func() { m.timeout(call.id) })

	m.mu.Lock()
	m.calls[call.id] = call
	m.mu.Unlock()

	m.logger.Info("call initiated",
		"callId", call.id, "callerId", callerID, "calleeId", calleeID, "callType", callType)

	m.sendToUser(calleeID, EventCallIncoming, CallIncomingEvent{
		CallID:         call.id,
		CallerID:       callerID,
		CallType:       callType,
		ConversationID: conversationID,
	})
	m.sendToUser(callerID, EventCallInitiated, CallInitiatedEvent{CallID: call.id})

	return call.id, nil
}

// Accept transitions a ringing call to active, cancels the ring timeout,
// and notifies the caller. Accepting a call that already left the
// ringing state is silently ignored, so duplicate accepts collapse to a
// single transition.
func (m *Calls) Accept(callID, userID string) error {
	call, ok := m.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	call.mu.Lock()
	if call.state != CallRinging {
		call.mu.Unlock()
		return nil
	}
	call.state = CallActive
	call.acceptedAt = time.Now()
	if !slices.Contains(call.participants, userID) {
		call.participants = append(call.participants, userID)
	}
	call.ringTimer.Stop()
	callerID := call.callerID
	call.mu.Unlock()

	m.logger.Info("call accepted", "callId", callID, "userId", userID)

	m.sendToUser(callerID, EventCallAccepted, CallAcceptedEvent{CallID: callID, AcceptedBy: userID})
	m.sendToUser(userID, EventCallAcceptedConfirmed, CallInitiatedEvent{CallID: callID})
	return nil
}

// Reject transitions a ringing call to rejected, notifies the caller,
// and schedules eviction after the grace period.
func (m *Calls) Reject(callID, userID, reason string) error {
	call, ok := m.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	call.mu.Lock()
	if call.state != CallRinging {
		call.mu.Unlock()
		return fmt.Errorf("%w: call %s is %s", ErrInvalidCallState, callID, call.state)
	}
	call.state = CallRejected
	call.rejectedBy = userID
	call.reason = reason
	call.endedAt = time.Now()
	call.ringTimer.Stop()
	callerID := call.callerID
	call.evictTimer = time.AfterFunc(m.evictDelay, func() { m.evict(callID) })
	call.mu.Unlock()

	m.logger.Info("call rejected", "callId", callID, "userId", userID, "reason", reason)

	m.sendToUser(callerID, EventCallRejected, CallRejectedEvent{
		CallID:     callID,
		RejectedBy: userID,
		Reason:     reason,
	})
	return nil
}

// timeout fires from the ring timer. A call that already transitioned
// out of ringing is left untouched; otherwise the call is rejected on
// the system's behalf with the timeout reason and the caller is
// notified exactly once.
func (m *Calls) timeout(callID string) {
	call, ok := m.Get(callID)
	if !ok {
		return
	}

	call.mu.Lock()
	if call.state != CallRinging {
		call.mu.Unlock()
		return
	}
	call.state = CallRejected
	call.reason = RejectReasonTimeout
	call.endedAt = time.Now()
	callerID := call.callerID
	call.evictTimer = time.AfterFunc(m.evictDelay, func() { m.evict(callID) })
	call.mu.Unlock()

	m.logger.Info("call timed out while ringing", "callId", callID)

	m.sendToUser(callerID, EventCallRejected, CallRejectedEvent{
		CallID: callID,
		Reason: RejectReasonTimeout,
	})
}

// End transitions a ringing or active call to ended, notifies every
// participant, schedules eviction, and hands a summary to the
// call-history collaborator.
func (m *Calls) End(callID, userID string) error {
	call, ok := m.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	call.mu.Lock()
	if call.terminalLocked() {
		call.mu.Unlock()
		return fmt.Errorf("%w: call %s is %s", ErrInvalidCallState, callID, call.state)
	}
	call.state = CallEnded
	call.endedBy = userID
	call.endedAt = time.Now()
	call.ringTimer.Stop()
	duration := call.durationLocked()
	participants := slices.Clone(call.participants)
	summary := call.summaryLocked()
	call.evictTimer = time.AfterFunc(m.evictDelay, func() { m.evict(callID) })
	call.mu.Unlock()

	m.logger.Info("call ended",
		"callId", callID, "userId", userID, "duration", duration)

	ended := CallEndedEvent{
		CallID:   callID,
		Duration: int64(duration / time.Second),
		EndedBy:  userID,
	}
	for _, participantID := range participants {
		m.sendToUser(participantID, EventCallEnded, ended)
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.recorder.RecordCall(ctx, summary); err != nil {
		m.logger.Warn("call history record failed", "callId", callID, "error", err)
	}
	return nil
}

// RelaySignal forwards an opaque signaling payload to every connection
// of the target identity. Valid only while the call is not terminal.
func (m *Calls) RelaySignal(callID, fromID, toID string, signal json.RawMessage) error {
	call, ok := m.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	call.mu.Lock()
	if call.terminalLocked() {
		call.mu.Unlock()
		return fmt.Errorf("%w: call %s is %s", ErrInvalidCallState, callID, call.state)
	}
	call.mu.Unlock()

	m.sendToUser(toID, EventCallSignal, CallSignalEvent{
		CallID: callID,
		From:   fromID,
		Signal: signal,
	})
	return nil
}

// MuteAudio broadcasts an audio-muted notification to all participants.
func (m *Calls) MuteAudio(callID, userID string) error {
	return m.broadcastState(callID, userID, EventCallAudioMuted)
}

// UnmuteAudio broadcasts an audio-unmuted notification to all participants.
func (m *Calls) UnmuteAudio(callID, userID string) error {
	return m.broadcastState(callID, userID, EventCallAudioUnmuted)
}

// MuteVideo broadcasts a video-muted notification to all participants.
func (m *Calls) MuteVideo(callID, userID string) error {
	return m.broadcastState(callID, userID, EventCallVideoMuted)
}

// UnmuteVideo broadcasts a video-unmuted notification to all participants.
func (m *Calls) UnmuteVideo(callID, userID string) error {
	return m.broadcastState(callID, userID, EventCallVideoUnmuted)
}

// ScreenShare broadcasts a screen-share-started notification to all
// participants.
func (m *Calls) ScreenShare(callID, userID string) error {
	return m.broadcastState(callID, userID, EventCallScreenShareStarted)
}

// broadcastState fans a media-state notification out to every
// participant's connections. Media-state events never alter the call's
// lifecycle state.
func (m *Calls) broadcastState(callID, userID, event string) error {
	call, ok := m.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	payload := CallStateEvent{CallID: callID, UserID: userID}
	for _, participantID := range call.Participants() {
		m.sendToUser(participantID, event, payload)
	}
	return nil
}

// EndAllFor ends every call the identity participates in, following the
// same path as an explicit end. Called when the identity's last
// connection closes.
func (m *Calls) EndAllFor(userID string) {
	m.mu.RLock()
	ids := make([]string, 0)
	for id, call := range m.calls {
		if slices.Contains(call.Participants(), userID) {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.End(id, userID); err != nil {
			// Lost the race with another terminal transition.
			m.logger.Debug("call already terminal on disconnect", "callId", id, "error", err)
		}
	}
}

// evict removes a terminal call from active storage once its grace
// period elapses.
func (m *Calls) evict(callID string) {
	m.mu.Lock()
	delete(m.calls, callID)
	m.mu.Unlock()
}

// sendToUser delivers an event to all of the identity's registered
// connections; multi-device users are signaled on every device.
// Delivery failures are logged and skipped.
func (m *Calls) sendToUser(userID, event string, data any) {
	for _, conn := range m.registry.ConnectionsFor(userID) {
		if err := conn.Send(event, data); err != nil {
			m.logger.Warn("call signaling delivery failed",
				"connId", conn.ID(), "userId", userID, "event", event, "error", err)
		}
	}
}
