package writer

import "errors"

// Sentinel errors for writer operations.
var (
	// ErrInvalidConfig indicates a non-positive worker count or batch size.
	ErrInvalidConfig = errors.New("writer: invalid config")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("writer: pool already started")

	// ErrNotStarted is returned by Wait before Start.
	ErrNotStarted = errors.New("writer: pool not started")

	// ErrDrainTimeout is returned by Wait when workers are still running
	// after the context expired.
	ErrDrainTimeout = errors.New("writer: workers did not stop in time")
)
