package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tag-ingest/internal/queue"
	"github.com/nerrad567/tag-ingest/internal/record"
)

// orderedStopper checks the queue is still marker-free when it is closed.
type orderedStopper struct {
	q             *queue.Queue
	mu            sync.Mutex
	closes        int
	queuedAtClose int
}

func (s *orderedStopper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.queuedAtClose = s.q.Len()
	return nil
}

func TestInitiateShutdownStopsFetcherBeforeMarkers(t *testing.T) {
	q, _ := queue.New(10)
	stopper := &orderedStopper{q: q}
	c := NewCoordinator(stopper, q, 3, nil)

	if err := c.InitiateShutdown(context.Background(), ReasonSignal); err != nil {
		t.Fatalf("InitiateShutdown() error = %v", err)
	}

	if stopper.closes != 1 || stopper.queuedAtClose != 0 {
		t.Errorf("fetcher closes = %d, queued at close = %d; want 1, 0", stopper.closes, stopper.queuedAtClose)
	}
	if q.Len() != 3 {
		t.Fatalf("queue length = %d, want 3 markers", q.Len())
	}
	for range 3 {
		item, _ := q.DequeueWithTimeout(context.Background(), time.Second)
		if !item.IsTerminate() {
			t.Error("queued item is not a termination marker")
		}
	}
}

func TestInitiateShutdownRunsOnce(t *testing.T) {
	q, _ := queue.New(10)
	stopper := &orderedStopper{q: q}
	c := NewCoordinator(stopper, q, 2, nil)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.InitiateShutdown(context.Background(), "caller")
		}()
	}
	wg.Wait()

	if stopper.closes != 1 {
		t.Errorf("fetcher closes = %d, want 1", stopper.closes)
	}
	if q.Len() != 2 {
		t.Errorf("queue length = %d, want 2", q.Len())
	}
	if c.Reason() != "caller" {
		t.Errorf("Reason() = %q", c.Reason())
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done() not closed")
	}
}

func TestInitiateShutdownBoundedByMarkerTimeout(t *testing.T) {
	q, _ := queue.New(1)
	q.TryEnqueue(record.Data(record.New("", "P", "T", time.Now(), nil)))
	c := NewCoordinator(&orderedStopper{q: q}, q, 2, nil, WithMarkerTimeout(20*time.Millisecond))

	start := time.Now()
	err := c.InitiateShutdown(context.Background(), ReasonSignal)
	if !errors.Is(err, ErrMarkers) {
		t.Fatalf("InitiateShutdown() error = %v, want ErrMarkers", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("InitiateShutdown() took %v, want about 20ms", elapsed)
	}
	// Later callers see the same result.
	if err2 := c.InitiateShutdown(context.Background(), ReasonSignal); !errors.Is(err2, ErrMarkers) {
		t.Errorf("second InitiateShutdown() error = %v, want ErrMarkers", err2)
	}
}

func TestInitiateShutdownExpiredCallerContextQueuesEveryMarker(t *testing.T) {
	for run := range 20 {
		q, _ := queue.New(16)
		c := NewCoordinator(&orderedStopper{q: q}, q, 8, nil)

		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		<-ctx.Done()
		err := c.initiate(ctx, "writer: connection refused", true)
		cancel()

		if err != nil {
			t.Fatalf("run %d: initiate() error = %v", run, err)
		}
		if q.Len() != 8 {
			t.Fatalf("run %d: markers queued = %d, want 8", run, q.Len())
		}
		// The process's own request afterwards is a no-op with no error.
		if err := c.InitiateShutdown(context.Background(), ReasonSignal); err != nil {
			t.Fatalf("run %d: later InitiateShutdown() error = %v", run, err)
		}
	}
}

func TestInitiatorRecordedOnce(t *testing.T) {
	q, _ := queue.New(10)

	c := NewCoordinator(&orderedStopper{q: q}, q, 1, nil)
	_ = c.InitiateShutdown(context.Background(), ReasonSignal)
	_ = c.initiate(context.Background(), "writer: fault", true)
	if c.ByWriter() {
		t.Error("ByWriter() = true when a signal came first")
	}
	if c.Reason() != ReasonSignal {
		t.Errorf("Reason() = %q, want %q", c.Reason(), ReasonSignal)
	}

	c = NewCoordinator(&orderedStopper{q: q}, q, 1, nil)
	_ = c.initiate(context.Background(), "writer: fault", true)
	_ = c.InitiateShutdown(context.Background(), ReasonSignal)
	if !c.ByWriter() {
		t.Error("ByWriter() = false when a writer came first")
	}
}
