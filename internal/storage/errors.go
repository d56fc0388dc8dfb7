package storage

import (
	"errors"
	"strings"

	"github.com/nerrad567/tag-ingest/internal/retry"
)

// Sentinel errors for storage operations.
var (
	// ErrNotAvailable is returned when the manager has marked storage unavailable.
	ErrNotAvailable = errors.New("storage: connection is not available")

	// ErrConnection indicates the backend could not be reached.
	ErrConnection = errors.New("storage: connection error")

	// ErrPoolClosed indicates the connection pool was closed underneath the caller.
	ErrPoolClosed = errors.New("storage: session pool is closed")

	// ErrAcquireTimeout indicates no pooled connection became free in time.
	ErrAcquireTimeout = errors.New("storage: timeout to get a connection")

	// ErrAlreadyExists is returned when a database, template or binding exists.
	ErrAlreadyExists = errors.New("storage: already exists")

	// ErrManagerClosed is returned when a rebuild is requested after Close.
	ErrManagerClosed = errors.New("storage: manager closed")
)

// IsConnectionFault reports whether err means the storage connection itself
// is unusable, as opposed to a problem with one request.
func IsConnectionFault(err error) bool {
	return errors.Is(err, ErrNotAvailable) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrPoolClosed) ||
		errors.Is(err, ErrAcquireTimeout) ||
		errors.Is(err, retry.ErrCritical)
}

// IsPoolDefunct reports whether err means the pool must be rebuilt.
func IsPoolDefunct(err error) bool {
	if errors.Is(err, ErrPoolClosed) || errors.Is(err, ErrAcquireTimeout) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "session pool is closed") ||
		strings.Contains(msg, "timeout to get a connection")
}

// IsAlreadyExists reports whether err is an "already exists" response.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		strings.Contains(strings.ToLower(err.Error()), "already exists")
}
