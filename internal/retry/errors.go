package retry

import (
	"errors"
	"fmt"
)

// Classification markers. Wrap an error with one of these so the default
// classifier can recognise it:
//
//	return fmt.Errorf("%w: %w", retry.ErrNonRetryable, err)
var (
	// ErrNonRetryable marks client-side failures (bad request, permission)
	// that another attempt cannot fix.
	ErrNonRetryable = errors.New("retry: non-retryable")

	// ErrServer marks server-class failures.
	ErrServer = errors.New("retry: server error")

	// ErrCritical matches a *CriticalError returned after the final attempt.
	ErrCritical = errors.New("retry: critical error")

	// ErrInterrupted indicates the context ended between attempts.
	ErrInterrupted = errors.New("retry: interrupted")

	// ErrInvalidConfig indicates an unusable retry configuration.
	ErrInvalidConfig = errors.New("retry: invalid config")
)

// CriticalError is returned when the last allowed attempt failed with a
// critical error. It unwraps to the original failure.
type CriticalError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("critical server error during %s after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

// Is reports true for ErrCritical.
func (e *CriticalError) Is(target error) bool {
	return target == ErrCritical
}

func (e *CriticalError) Unwrap() error {
	return e.Err
}
