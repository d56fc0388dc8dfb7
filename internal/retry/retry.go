package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls attempt count and backoff.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Multiplier   float64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	case c.InitialDelay < 0:
		return fmt.Errorf("%w: initial delay must not be negative", ErrInvalidConfig)
	case c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("%w: max delay %v below initial delay %v", ErrInvalidConfig, c.MaxDelay, c.InitialDelay)
	case c.Multiplier <= 1:
		return fmt.Errorf("%w: backoff multiplier must be greater than 1", ErrInvalidConfig)
	}
	return nil
}

// Logger defines the logging interface used by the Executor.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs operations under a retry Config.
//
// Thread Safety:
//   - An Executor is immutable after construction and may be shared.
type Executor struct {
	cfg      Config
	classify Classifier
	logger   Logger
	sleep    SleepFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier replaces the DefaultClassifier.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) { e.classify = c }
}

// WithLogger sets the logger for attempt failures.
func WithLogger(l Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithSleep replaces the context-aware timer sleep. Intended for tests.
func WithSleep(s SleepFunc) Option {
	return func(e *Executor) { e.sleep = s }
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config, opts ...Option) *Executor {
	e := &Executor{
		cfg:      cfg,
		classify: DefaultClassifier{},
		logger:   noopLogger{},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the executor's configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Do runs op until it succeeds, fails with a non-retryable error, or runs
// out of attempts.
//
// Parameters:
//   - ctx: checked between attempts; cancellation stops the loop
//   - e: executor holding the retry policy
//   - label: operation name used in logs and CriticalError
//   - op: the operation; receives ctx
//
// Returns:
//   - T: the result of the first successful attempt
//   - error: the non-retryable error, the last error, a *CriticalError,
//     or an error matching ErrInterrupted
func Do[T any](ctx context.Context, e *Executor, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	delay := e.cfg.InitialDelay
	maxAttempts := max(e.cfg.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: %s: %w", ErrInterrupted, label, err)
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if !e.classify.Retryable(err) {
			return zero, err
		}

		if attempt >= maxAttempts {
			if e.classify.Critical(err) {
				e.logger.Error("critical error, maximum retry attempts reached",
					"operation", label,
					"attempts", attempt,
					"error", err,
				)
				return zero, &CriticalError{Label: label, Attempts: attempt, Err: err}
			}
			e.logger.Error("operation failed after retries",
				"operation", label,
				"attempts", attempt,
				"error", err,
			)
			return zero, err
		}

		e.logger.Warn("operation failed, retrying",
			"operation", label,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)

		if serr := e.sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("%w: %s: %w", ErrInterrupted, label, serr)
		}
		delay = nextDelay(delay, e.cfg.Multiplier, e.cfg.MaxDelay)
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, e *Executor, label string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func nextDelay(d time.Duration, multiplier float64, ceiling time.Duration) time.Duration {
	next := time.Duration(float64(d) * multiplier)
	if ceiling > 0 && next > ceiling {
		return ceiling
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
