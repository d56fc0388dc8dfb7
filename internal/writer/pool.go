package writer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tag-ingest/internal/metrics"
	"github.com/nerrad567/tag-ingest/internal/record"
	"github.com/nerrad567/tag-ingest/internal/retry"
	"github.com/nerrad567/tag-ingest/internal/schema"
	"github.com/nerrad567/tag-ingest/internal/storage"
)

// Defaults for Config fields left at zero.
const (
	DefaultWorkers           = 4
	DefaultBatchSize         = 1000
	DefaultFirstWait         = 5 * time.Second
	DefaultPollWait          = 100 * time.Millisecond
	DefaultEscalationTimeout = 30 * time.Second
)

// Config controls batching and concurrency.
type Config struct {
	Workers   int
	BatchSize int
	FirstWait time.Duration
	PollWait  time.Duration

	// EscalationTimeout bounds a shutdown requested by a worker.
	EscalationTimeout time.Duration

	// Template and Database configure each worker's schema.Registry.
	Template        string
	Database        string
	SchemaBatchSize int
}

func (c Config) withDefaults() Config {
	if c.FirstWait <= 0 {
		c.FirstWait = DefaultFirstWait
	}
	if c.PollWait <= 0 {
		c.PollWait = DefaultPollWait
	}
	if c.EscalationTimeout <= 0 {
		c.EscalationTimeout = DefaultEscalationTimeout
	}
	if c.Template == "" {
		c.Template = schema.DefaultTemplate
	}
	if c.Database == "" {
		c.Database = record.DefaultRoot
	}
	if c.SchemaBatchSize <= 0 {
		c.SchemaBatchSize = schema.DefaultBatchSize
	}
	return c
}

// Queue is the part of the work queue the workers use.
type Queue interface {
	DequeueWithTimeout(ctx context.Context, maxWait time.Duration) (record.Item, bool)
	BlockingEnqueue(ctx context.Context, item record.Item) error
	Len() int
}

// Conn is the part of storage.Manager the workers use.
type Conn interface {
	Engine() storage.Engine
	IsAvailable() bool
	CheckConnection(ctx context.Context) bool
}

// Escalator shuts the pipeline down on behalf of a worker.
type Escalator interface {
	InitiateShutdown(ctx context.Context, reason string) error
}

// FailureRecorder persists failed writes.
type FailureRecorder interface {
	LogFailedWrite(ctx context.Context, fw record.FailedWrite)
}

// Logger defines the logging interface used by the Pool.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopRecorder struct{}

func (noopRecorder) LogFailedWrite(context.Context, record.FailedWrite) {}

type noopEscalator struct{}

func (noopEscalator) InitiateShutdown(context.Context, string) error { return nil }

// Pool runs the writer workers.
//
// Thread Safety:
//   - Start must be called once. Wait and Remaining are safe from any
//     goroutine.
type Pool struct {
	cfg       Config
	queue     Queue
	conn      Conn
	exec      *retry.Executor
	failures  FailureRecorder
	metrics   *metrics.Metrics
	escalator Escalator
	logger    Logger

	started   atomic.Bool
	remaining atomic.Int32
	done      chan struct{}

	escalations sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithFailureRecorder sets where failed writes are persisted.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(p *Pool) {
		if r != nil {
			p.failures = r
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithEscalator sets who is asked to shut down on a connection fault.
func WithEscalator(e Escalator) Option {
	return func(p *Pool) {
		if e != nil {
			p.escalator = e
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool creates a Pool. Workers do not run until Start.
//
// Parameters:
//   - cfg: Worker count and batch size are required
//   - q: Queue shared with the fetch side
//   - conn: Storage connection manager
//   - exec: Retry executor for schema binding and inserts
func NewPool(cfg Config, q Queue, conn Conn, exec *retry.Executor, opts ...Option) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, cfg.Workers)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, cfg.BatchSize)
	}

	p := &Pool{
		cfg:       cfg.withDefaults(),
		queue:     q,
		conn:      conn,
		exec:      exec,
		failures:  noopRecorder{},
		escalator: noopEscalator{},
		logger:    noopLogger{},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// Start launches the workers. They run until they receive a termination
// marker, escalate, or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	p.remaining.Store(int32(p.cfg.Workers))
	for id := 1; id <= p.cfg.Workers; id++ {
		w := p.newWorker(id)
		go w.run(ctx)
	}

	p.logger.Info("writer pool started", "workers", p.cfg.Workers, "batch_size", p.cfg.BatchSize)
	return nil
}

// Wait blocks until every worker has exited or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %d still running", ErrDrainTimeout, p.Remaining())
	}
}

// Done is closed once every worker has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Remaining returns the number of workers that have not exited.
func (p *Pool) Remaining() int {
	return int(p.remaining.Load())
}

func (p *Pool) workerExited() {
	if p.remaining.Add(-1) == 0 {
		close(p.done)
	}
}

func (p *Pool) newWorker(id int) *worker {
	log := workerLogger{l: p.logger, id: id}
	return &worker{
		id:     id,
		pool:   p,
		logger: log,
		registry: schema.NewRegistry(p.conn, p.exec,
			schema.WithTemplate(p.cfg.Template),
			schema.WithDatabase(p.cfg.Database),
			schema.WithBatchSize(p.cfg.SchemaBatchSize),
			schema.WithLogger(log),
		),
	}
}

// escalate requests a shutdown and probes the connection without blocking
// the caller. Each runs on its own deadline so a hung probe cannot starve
// the shutdown request.
func (p *Pool) escalate(cause error) {
	p.escalations.Add(2)
	go func() {
		defer p.escalations.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.EscalationTimeout)
		defer cancel()

		if err := p.escalator.InitiateShutdown(ctx, "writer: "+cause.Error()); err != nil {
			p.logger.Error("shutdown request failed", "error", err)
		}
	}()
	go func() {
		defer p.escalations.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.EscalationTimeout)
		defer cancel()

		if !p.conn.CheckConnection(ctx) {
			p.logger.Warn("storage connection check failed after write fault")
		}
	}()
}

// WaitEscalations blocks until every escalation goroutine has returned.
func (p *Pool) WaitEscalations() {
	p.escalations.Wait()
}

// workerLogger tags every entry with the worker id.
type workerLogger struct {
	l  Logger
	id int
}

func (w workerLogger) with(args []any) []any {
	return append([]any{"writer", w.id}, args...)
}

func (w workerLogger) Debug(msg string, args ...any) { w.l.Debug(msg, w.with(args)...) }
func (w workerLogger) Info(msg string, args ...any)  { w.l.Info(msg, w.with(args)...) }
func (w workerLogger) Warn(msg string, args ...any)  { w.l.Warn(msg, w.with(args)...) }
func (w workerLogger) Error(msg string, args ...any) { w.l.Error(msg, w.with(args)...) }
