package pipeline

import "errors"

// Sentinel errors for pipeline operations.
var (
	// ErrMarkers indicates not every termination marker could be queued.
	ErrMarkers = errors.New("pipeline: sending termination markers")

	// ErrEscalated is returned by Shutdown when a writer requested it.
	ErrEscalated = errors.New("pipeline: shut down after storage failure")

	// ErrNotStarted is returned by Shutdown before Start.
	ErrNotStarted = errors.New("pipeline: not started")
)
