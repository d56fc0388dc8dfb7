package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tag-ingest/internal/record"
)

// Shutdown reasons used by the process.
const (
	ReasonSignal  = "signal"
	ReasonCommand = "remote command"
)

// DefaultMarkerTimeout bounds how long the coordinator waits for room in
// the queue for its termination markers.
const DefaultMarkerTimeout = 30 * time.Second

// Stopper stops the producer side.
type Stopper interface {
	Close() error
}

// MarkerQueue accepts termination markers.
type MarkerQueue interface {
	BlockingEnqueue(ctx context.Context, item record.Item) error
}

// Coordinator runs the shutdown sequence exactly once.
//
// Thread Safety:
//   - InitiateShutdown may be called concurrently; later callers block
//     until the first call finishes and get its result.
type Coordinator struct {
	fetcher    Stopper
	queue      MarkerQueue
	workers    int
	markerWait time.Duration
	logger     Logger

	once sync.Once
	done chan struct{}

	mu       sync.Mutex
	reason   string
	byWriter bool
	err      error
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMarkerTimeout sets how long marker sends may wait for room.
func WithMarkerTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.markerWait = d
		}
	}
}

// NewCoordinator creates a Coordinator that sends workers markers.
func NewCoordinator(fetcher Stopper, q MarkerQueue, workers int, logger Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Coordinator{
		fetcher:    fetcher,
		queue:      q,
		workers:    workers,
		markerWait: DefaultMarkerTimeout,
		logger:     logger,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitiateShutdown stops the fetcher, then queues one marker per worker.
//
// Marker sends are bounded by the marker timeout and ignore the deadline
// of ctx: whoever arrives first, every worker must get its marker.
func (c *Coordinator) InitiateShutdown(ctx context.Context, reason string) error {
	return c.initiate(ctx, reason, false)
}

// initiate runs the sequence once and remembers whether a writer asked.
func (c *Coordinator) initiate(ctx context.Context, reason string, byWriter bool) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.byWriter = byWriter
		c.mu.Unlock()
		close(c.done)

		c.logger.Info("initiating shutdown", "reason", reason)

		if err := c.fetcher.Close(); err != nil {
			c.logger.Warn("error stopping fetcher", "error", err)
		}

		markerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.markerWait)
		defer cancel()

		for i := range c.workers {
			if err := c.queue.BlockingEnqueue(markerCtx, record.Terminate()); err != nil {
				c.mu.Lock()
				c.err = fmt.Errorf("%w: queued %d of %d: %w", ErrMarkers, i, c.workers, err)
				c.mu.Unlock()
				c.logger.Error("could not queue termination markers", "error", err)
				return
			}
		}
		c.logger.Info("termination markers queued", "count", c.workers)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed as soon as a shutdown has been initiated.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// ByWriter reports whether the first caller was an escalating writer.
func (c *Coordinator) ByWriter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byWriter
}

// Reason returns the reason given by the first caller, or "".
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
