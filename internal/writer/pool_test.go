package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/tag-ingest/internal/queue"
	"github.com/nerrad567/tag-ingest/internal/record"
	"github.com/nerrad567/tag-ingest/internal/retry"
	"github.com/nerrad567/tag-ingest/internal/storage"
	"github.com/nerrad567/tag-ingest/internal/storage/storagetest"
)

// =============================================================================
// Test Helpers
// =============================================================================

type capturingRecorder struct {
	mu     sync.Mutex
	writes []record.FailedWrite
}

func (r *capturingRecorder) LogFailedWrite(_ context.Context, fw record.FailedWrite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, fw)
}

func (r *capturingRecorder) all() []record.FailedWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record.FailedWrite(nil), r.writes...)
}

type capturingEscalator struct {
	mu      sync.Mutex
	reasons []string
}

func (e *capturingEscalator) InitiateShutdown(_ context.Context, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reasons = append(e.reasons, reason)
	return nil
}

func (e *capturingEscalator) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reasons)
}

func fastRetry() *retry.Executor {
	return retry.NewExecutor(retry.Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		MaxAttempts:  3,
		Multiplier:   2,
	})
}

type fixture struct {
	engine    *storagetest.Engine
	manager   *storage.Manager
	queue     *queue.Queue
	failures  *capturingRecorder
	escalator *capturingEscalator
	pool      *Pool
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()

	eng := storagetest.NewEngine()
	mgr, err := storage.NewManager(context.Background(), eng.Dialer(), fastRetry(), storage.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })

	q, err := queue.New(100)
	if err != nil {
		t.Fatalf("queue.New() error = %v", err)
	}

	f := &fixture{
		engine:    eng,
		manager:   mgr,
		queue:     q,
		failures:  &capturingRecorder{},
		escalator: &capturingEscalator{},
	}

	f.pool, err = NewPool(Config{
		Workers:   workers,
		BatchSize: 10,
		FirstWait: 50 * time.Millisecond,
		PollWait:  10 * time.Millisecond,
	}, q, mgr, fastRetry(),
		WithFailureRecorder(f.failures),
		WithEscalator(f.escalator),
	)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return f
}

func sample(plant, tag string, sec int64) record.Record {
	return record.New("", plant, tag, time.Unix(sec, 0), map[string]string{
		record.MeasurementQual:       "0",
		record.MeasurementColTime:    "c",
		record.MeasurementStdTag:     "s",
		record.MeasurementSensorType: "x",
		record.MeasurementVal:        fmt.Sprint(sec),
	})
}

func (f *fixture) enqueue(t *testing.T, items ...record.Item) {
	t.Helper()
	for _, it := range items {
		if !f.queue.TryEnqueue(it) {
			t.Fatal("TryEnqueue() = false")
		}
	}
}

func (f *fixture) stop(t *testing.T) {
	t.Helper()
	for range f.pool.Workers() {
		if err := f.queue.BlockingEnqueue(context.Background(), record.Terminate()); err != nil {
			t.Fatalf("BlockingEnqueue() error = %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.pool.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// =============================================================================
// Configuration
// =============================================================================

func TestNewPoolInvalidConfig(t *testing.T) {
	q, _ := queue.New(1)
	tests := []Config{
		{Workers: 0, BatchSize: 10},
		{Workers: 1, BatchSize: 0},
	}
	for _, cfg := range tests {
		if _, err := NewPool(cfg, q, nil, fastRetry()); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("NewPool(%+v) error = %v, want ErrInvalidConfig", cfg, err)
		}
	}
}

func TestStartTwice(t *testing.T) {
	f := newFixture(t, 1)
	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.pool.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	f.stop(t)
}

func TestWaitBeforeStart(t *testing.T) {
	f := newFixture(t, 1)
	if err := f.pool.Wait(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Wait() error = %v, want ErrNotStarted", err)
	}
}

// =============================================================================
// Write Path
// =============================================================================

func TestWritesOneTabletPerDevice(t *testing.T) {
	f := newFixture(t, 1)
	f.enqueue(t,
		record.Data(sample("P1", "A", 1)),
		record.Data(sample("P1", "B", 2)),
		record.Data(sample("P1", "A", 3)),
	)

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return len(f.engine.Tablets()) == 2 })
	f.stop(t)

	rows := map[string]int{}
	for _, tab := range f.engine.Tablets() {
		rows[tab.DevicePath] = tab.Rows()
	}
	if rows["root.cepco.`P1`.`A`"] != 2 || rows["root.cepco.`P1`.`B`"] != 1 {
		t.Errorf("tablet rows = %v, want A:2 B:1", rows)
	}
	if n := len(f.failures.all()); n != 0 {
		t.Errorf("failed writes = %d, want 0", n)
	}
	if f.engine.SetTemplateCalls("root.cepco.`P1`.`A`") != 1 {
		t.Errorf("SetTemplate calls for A = %d, want 1", f.engine.SetTemplateCalls("root.cepco.`P1`.`A`"))
	}
	if f.escalator.calls() != 0 {
		t.Error("escalated on a healthy write path")
	}
}

func TestSchemaFailureRecordsEachRecord(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.SetHooks(func(e *storagetest.Engine) {
		e.SetTemplateErr = func(string) error {
			return fmt.Errorf("%w: template mismatch", retry.ErrNonRetryable)
		}
	})
	f.enqueue(t,
		record.Data(sample("P1", "A", 1)),
		record.Data(sample("P1", "A", 2)),
	)

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return len(f.failures.all()) == 2 })

	for _, fw := range f.failures.all() {
		if !strings.HasPrefix(fw.Reason, "schema validation failed: ") || fw.PointCount != 1 {
			t.Errorf("FailedWrite = %+v", fw)
		}
	}

	// The worker stays alive and writes once binding works again.
	f.engine.SetHooks(func(e *storagetest.Engine) { e.SetTemplateErr = nil })
	f.enqueue(t, record.Data(sample("P1", "A", 3)))
	waitFor(t, func() bool { return len(f.engine.Tablets()) == 1 })

	f.stop(t)
	if f.escalator.calls() != 0 {
		t.Error("escalated on a schema data error")
	}
}

func TestNonFatalInsertFailureContinues(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.SetHooks(func(e *storagetest.Engine) {
		e.InsertErr = func(tab *record.Tablet) error {
			if strings.Contains(tab.DevicePath, "`A`") {
				return fmt.Errorf("%w: bad value", retry.ErrNonRetryable)
			}
			return nil
		}
	})
	f.enqueue(t,
		record.Data(sample("P1", "A", 1)),
		record.Data(sample("P1", "B", 2)),
	)

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return len(f.engine.Tablets()) == 1 })
	f.stop(t)

	failed := f.failures.all()
	if len(failed) != 1 || failed[0].Tag != "A" {
		t.Errorf("failed writes = %+v, want one for A", failed)
	}
}

// =============================================================================
// Escalation
// =============================================================================

func TestConnectionFaultEscalates(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.SetHooks(func(e *storagetest.Engine) {
		e.InsertErr = func(*record.Tablet) error { return storage.ErrConnection }
		e.PingErr = func() error { return errors.New("dial tcp 127.0.0.1:8086: connect: connection refused") }
	})
	f.enqueue(t,
		record.Data(sample("P1", "A", 1)),
		record.Data(sample("P1", "B", 2)),
	)

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.pool.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	f.pool.WaitEscalations()

	if n := len(f.failures.all()); n != 1 {
		t.Errorf("failed writes = %d, want 1 (remaining devices aborted)", n)
	}
	if f.manager.IsAvailable() {
		t.Error("IsAvailable() = true after connection fault")
	}
	if f.escalator.calls() != 1 {
		t.Errorf("InitiateShutdown() calls = %d, want 1", f.escalator.calls())
	}
}

// hangingConn reports storage available but never finishes a probe
// before its context ends.
type hangingConn struct {
	*storage.Manager
	probes atomic.Int32
}

func (c *hangingConn) CheckConnection(ctx context.Context) bool {
	c.probes.Add(1)
	<-ctx.Done()
	return false
}

type deadlineEscalator struct {
	mu     sync.Mutex
	calls  int
	ctxErr error
}

func (e *deadlineEscalator) InitiateShutdown(ctx context.Context, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.ctxErr = ctx.Err()
	return nil
}

func TestEscalationNotStarvedByHungProbe(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.SetHooks(func(e *storagetest.Engine) {
		e.InsertErr = func(*record.Tablet) error { return storage.ErrConnection }
	})
	conn := &hangingConn{Manager: f.manager}
	esc := &deadlineEscalator{}

	pool, err := NewPool(Config{
		Workers:           1,
		BatchSize:         10,
		FirstWait:         50 * time.Millisecond,
		PollWait:          10 * time.Millisecond,
		EscalationTimeout: 200 * time.Millisecond,
	}, f.queue, conn, fastRetry(), WithEscalator(esc))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	f.enqueue(t, record.Data(sample("P1", "A", 1)))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	pool.WaitEscalations()

	esc.mu.Lock()
	defer esc.mu.Unlock()
	if esc.calls != 1 {
		t.Fatalf("InitiateShutdown() calls = %d, want 1", esc.calls)
	}
	if esc.ctxErr != nil {
		t.Errorf("InitiateShutdown() got an expired context: %v", esc.ctxErr)
	}
	if conn.probes.Load() != 1 {
		t.Errorf("CheckConnection() calls = %d, want 1", conn.probes.Load())
	}
}

func TestPanicStillCountsWorkerExit(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.SetHooks(func(e *storagetest.Engine) {
		e.InsertErr = func(*record.Tablet) error { panic("engine exploded") }
	})
	f.enqueue(t, record.Data(sample("P1", "A", 1)))

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.pool.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if f.pool.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", f.pool.Remaining())
	}
}

// =============================================================================
// Shutdown
// =============================================================================

func TestMarkersStopEveryWorker(t *testing.T) {
	const workers = 3
	f := newFixture(t, workers)

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.enqueue(t, record.Data(sample("P1", "A", 1)))
	f.stop(t)

	if f.pool.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", f.pool.Remaining())
	}
	// Every consumed marker was relayed, so all of them are still queued.
	if f.queue.Len() != workers {
		t.Errorf("queue length = %d, want %d markers", f.queue.Len(), workers)
	}
}

func TestMarkerDiscardsPartialBatch(t *testing.T) {
	f := newFixture(t, 1)
	f.enqueue(t,
		record.Data(sample("P1", "A", 1)),
		record.Terminate(),
	)

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.pool.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if n := len(f.engine.Tablets()); n != 0 {
		t.Errorf("tablets written = %d, want 0", n)
	}
}

func TestWaitTimesOut(t *testing.T) {
	f := newFixture(t, 2)
	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	if err := f.pool.Start(runCtx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.pool.Wait(ctx); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("Wait() error = %v, want ErrDrainTimeout", err)
	}

	stopWorkers()
	select {
	case <-f.pool.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("workers ignored context cancellation")
	}
}

type warnLogger struct {
	noopLogger
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestUnrecordableFailureIsLogged(t *testing.T) {
	f := newFixture(t, 1)
	logger := &warnLogger{}
	WithLogger(logger)(f.pool)

	w := f.pool.newWorker(0)
	w.recordFailure(context.Background(), "root.cepco.`P1`.`A`", nil, "insert failed")

	if n := len(f.failures.all()); n != 0 {
		t.Errorf("failed writes = %d, want 0", n)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 || logger.warns[0] != "failed write not recorded" {
		t.Errorf("warnings = %v, want one unrecorded failure notice", logger.warns)
	}
}
