package bridge

import "errors"

var (
	// ErrDuplicateCallID is returned when a session is created for a call id
	// that already has an active session, including one mid-teardown.
	ErrDuplicateCallID = errors.New("call session already active for call id")

	// ErrRegistryFull is returned when creating a session would exceed the
	// configured maximum number of concurrent calls.
	ErrRegistryFull = errors.New("maximum concurrent call sessions reached")

	// ErrToolLoopExceeded is returned when the model keeps requesting tool
	// invocations past the configured iteration limit.
	ErrToolLoopExceeded = errors.New("tool invocation loop limit exceeded")
)
