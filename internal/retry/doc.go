// Package retry runs fallible operations with bounded, exponentially backed
// off retries.
//
// Every component that talks to an external service (storage probes, schema
// bindings, tablet inserts) goes through an Executor so retry behaviour is
// configured in one place.
//
// # Classification
//
// A Classifier decides, per error, whether another attempt is worthwhile and
// whether an exhausted failure is critical:
//
//   - errors marked with ErrNonRetryable return immediately, without sleeping
//   - other errors are retried until MaxAttempts is reached
//   - if the last failure is critical (connection refused, server class, or a
//     dial failure underneath), it is returned as a *CriticalError matching
//     ErrCritical so callers can escalate
//
// # Usage
//
//	exec := retry.NewExecutor(cfg, retry.WithLogger(logger))
//	n, err := retry.Do(ctx, exec, "insert tablet", func(ctx context.Context) (int, error) {
//	    return engine.Insert(ctx, tablet)
//	})
//
// # Cancellation
//
// Cancelling ctx between attempts stops the loop and returns an error
// matching both ErrInterrupted and the context error.
package retry
