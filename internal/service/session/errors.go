package session

import "errors"

var (
	// ErrInvalidState is returned when an operation is not legal in the current state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrPermissionDenied is returned when the operator's microphone is unavailable.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrCredential is returned when no session credential could be issued.
	ErrCredential = errors.New("session credential unavailable")
	// ErrStream wraps failures reported by the streaming agent.
	ErrStream = errors.New("agent stream error")
	// ErrConnectAborted is returned by a Connect overtaken by Disconnect.
	ErrConnectAborted = errors.New("connect aborted by disconnect")
	// ErrClosed is returned once the orchestrator has shut down.
	ErrClosed = errors.New("session closed")
)

// errorKind classifies an error for the operator UI.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission"
	case errors.Is(err, ErrCredential):
		return "credential"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConnectAborted):
		return "state"
	default:
		return "stream"
	}
}
