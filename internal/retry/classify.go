package retry

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// Classifier decides how a failed attempt is treated.
type Classifier interface {
	// Retryable reports whether another attempt may succeed.
	Retryable(err error) bool

	// Critical reports whether an exhausted failure should surface as a
	// CriticalError.
	Critical(err error) bool
}

// DefaultClassifier retries everything not marked ErrNonRetryable and
// treats refused connections, server errors and dial failures as critical.
type DefaultClassifier struct{}

// Retryable implements Classifier.
func (DefaultClassifier) Retryable(err error) bool {
	return !errors.Is(err, ErrNonRetryable)
}

// Critical implements Classifier.
func (DefaultClassifier) Critical(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServer) || errors.Is(err, ErrCritical) {
		return true
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return true
	}
	return IsConnectFailure(err)
}

// IsConnectFailure reports whether a network dial failure is anywhere in
// the error chain.
func IsConnectFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}
