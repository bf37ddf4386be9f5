package commander

import "errors"

var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrScriptNotFound    = errors.New("script not found")

	// ErrDuplicateAgent is returned when host and port are already registered.
	ErrDuplicateAgent  = errors.New("agent already registered")
	ErrDuplicateScript = errors.New("script name already exists")

	// ErrHandshakeFailure is returned when a new agent cannot be reached or
	// answers its info query with an unusable payload.
	ErrHandshakeFailure = errors.New("agent handshake failed")

	// ErrTaskBusy is returned when a dispatch of the same task is already in flight.
	ErrTaskBusy = errors.New("task is already executing")

	ErrAlreadyFinalized = errors.New("execution already finalized")

	ErrInvalidInput = errors.New("invalid input")
)
