// Package queue provides the bounded buffer between the fetch scheduler and
// the writer pool.
//
// Regular records are offered with TryEnqueue, which drops instead of
// blocking when the queue is full. BlockingEnqueue exists only for control
// items (termination markers) so a producer under backpressure can never
// wedge the pipeline.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tag-ingest/internal/record"
)

// ErrInvalidCapacity is returned by New for a non-positive capacity.
var ErrInvalidCapacity = errors.New("queue: capacity must be positive")

// Queue is a FIFO of record.Items with a fixed capacity.
//
// Thread Safety:
//   - All methods are safe for concurrent use by any number of producers
//     and consumers.
type Queue struct {
	items chan record.Item
}

// New creates a queue holding at most capacity items.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Queue{items: make(chan record.Item, capacity)}, nil
}

// TryEnqueue adds item if there is room. It never blocks; false means the
// item was dropped.
func (q *Queue) TryEnqueue(item record.Item) bool {
	select {
	case q.items <- item:
		return true
	default:
		return false
	}
}

// BlockingEnqueue waits for room and adds item. It is meant for
// termination markers only. An item that fits is always added, even when
// ctx is already done.
func (q *Queue) BlockingEnqueue(ctx context.Context, item record.Item) error {
	select {
	case q.items <- item:
		return nil
	default:
	}

	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: blocking enqueue: %w", ctx.Err())
	}
}

// DequeueWithTimeout waits up to maxWait for an item. ok is false on
// timeout or when ctx is done.
func (q *Queue) DequeueWithTimeout(ctx context.Context, maxWait time.Duration) (item record.Item, ok bool) {
	// Fast path avoids a timer allocation when data is waiting.
	select {
	case item = <-q.items:
		return item, true
	default:
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case item = <-q.items:
		return item, true
	case <-timer.C:
		return record.Item{}, false
	case <-ctx.Done():
		return record.Item{}, false
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}
