package session

import "errors"

// Error taxonomy for the session core. Everything here is reported to the
// originating connection only and is never fatal to the process.
var (
	// ErrUnauthorized is returned when a connection presents a bad or
	// missing credential at handshake time. The connection is refused
	// before it is ever registered.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRequest is returned for malformed event payloads. No
	// state changes.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPersistence is returned when the storage collaborator fails
	// during a message send. The message is not broadcast and the core
	// does not retry.
	ErrPersistence = errors.New("persistence failure")

	// ErrCallNotFound is returned for operations referencing a call that
	// does not exist (or has already been evicted).
	ErrCallNotFound = errors.New("call not found")

	// ErrInvalidCallState is returned for operations that are not valid
	// in the call's current state.
	ErrInvalidCallState = errors.New("invalid call state")
)
