package fetch

import "errors"

// Sentinel errors for fetch operations.
var (
	// ErrRequest indicates the request could not be built or sent.
	ErrRequest = errors.New("fetch: request failed")

	// ErrStatus indicates a non-200 response.
	ErrStatus = errors.New("fetch: unexpected status")

	// ErrDecode indicates the response body was not a JSON array of objects.
	ErrDecode = errors.New("fetch: decoding response")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("fetch: scheduler closed")

	// ErrInvalidConfig indicates a missing URL, key, tags or interval.
	ErrInvalidConfig = errors.New("fetch: invalid config")
)
