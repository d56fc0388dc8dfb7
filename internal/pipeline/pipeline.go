package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tag-ingest/internal/fetch"
	"github.com/nerrad567/tag-ingest/internal/metrics"
	"github.com/nerrad567/tag-ingest/internal/queue"
	"github.com/nerrad567/tag-ingest/internal/retry"
	"github.com/nerrad567/tag-ingest/internal/schema"
	"github.com/nerrad567/tag-ingest/internal/writer"
)

// Defaults for Config fields left at zero.
const (
	DefaultQueueCapacity = 100000
	DefaultDrainTimeout  = 30 * time.Second
)

// Config collects the settings of every stage.
type Config struct {
	Fetch         fetch.Config
	Writer        writer.Config
	QueueCapacity int
	DrainTimeout  time.Duration
}

// Conn is the storage connection manager as the pipeline uses it.
type Conn interface {
	writer.Conn
	Close() error
}

// FailureRecorder persists failed writes and requests.
type FailureRecorder interface {
	writer.FailureRecorder
	fetch.FailureRecorder
}

// Logger defines the logging interface used by the pipeline.
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

// Pipeline owns every stage between the upstream API and storage.
type Pipeline struct {
	cfg     Config
	conn    Conn
	exec    *retry.Executor
	queue   *queue.Queue
	fetcher *fetch.Scheduler
	pool    *writer.Pool
	coord   *Coordinator
	logger  Logger

	started       atomic.Bool
	cancelWorkers context.CancelFunc
}

type options struct {
	failures FailureRecorder
	metrics  *metrics.Metrics
	logger   Logger
	client   *http.Client
}

// Option configures a Pipeline.
type Option func(*options)

// WithFailureRecorder sets where failed writes and requests are persisted.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(o *options) { o.failures = r }
}

// WithMetrics sets the metrics sink shared by every stage.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger shared by every stage.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient sets the client used for upstream requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// New assembles the queue, fetch scheduler, writer pool and coordinator.
// Nothing runs until Start.
func New(cfg Config, conn Conn, exec *retry.Executor, opts ...Option) (*Pipeline, error) {
	o := options{logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Fetch.Root == "" {
		cfg.Fetch.Root = cfg.Writer.Database
	}
	if cfg.Writer.EscalationTimeout <= 0 {
		cfg.Writer.EscalationTimeout = cfg.DrainTimeout
	}

	q, err := queue.New(cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}

	fetchOpts := []fetch.Option{
		fetch.WithMetrics(o.metrics),
		fetch.WithLogger(o.logger),
		fetch.WithHTTPClient(o.client),
	}
	if o.failures != nil {
		fetchOpts = append(fetchOpts, fetch.WithFailureRecorder(o.failures))
	}
	fetcher, err := fetch.New(cfg.Fetch, q, fetchOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating fetcher: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		conn:    conn,
		exec:    exec,
		queue:   q,
		fetcher: fetcher,
		coord:   NewCoordinator(fetcher, q, cfg.Writer.Workers, o.logger, WithMarkerTimeout(cfg.DrainTimeout)),
		logger:  o.logger,
	}

	poolOpts := []writer.Option{
		writer.WithMetrics(o.metrics),
		writer.WithLogger(o.logger),
		writer.WithEscalator(writerEscalation{p: p}),
	}
	if o.failures != nil {
		poolOpts = append(poolOpts, writer.WithFailureRecorder(o.failures))
	}
	p.pool, err = writer.NewPool(cfg.Writer, q, conn, exec, poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating writer pool: %w", err)
	}

	return p, nil
}

// Start initialises the schema, then launches the writers and finally the
// fetcher, so the queue always has consumers before it has producers.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	registry := schema.NewRegistry(p.conn, p.exec,
		schema.WithTemplate(p.cfg.Writer.Template),
		schema.WithDatabase(p.cfg.Writer.Database),
		schema.WithLogger(p.logger),
	)
	if err := registry.InitializeSchema(ctx); err != nil {
		return err
	}

	// Writers stop on markers, not on the caller's context.
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelWorkers = cancel

	if err := p.pool.Start(workerCtx); err != nil {
		cancel()
		return fmt.Errorf("starting writers: %w", err)
	}
	if err := p.fetcher.Start(); err != nil {
		_ = p.coord.InitiateShutdown(ctx, "fetcher failed to start")
		return fmt.Errorf("starting fetcher: %w", err)
	}

	p.logger.Info("pipeline started",
		"workers", p.cfg.Writer.Workers,
		"queue_capacity", p.cfg.QueueCapacity,
		"tags", len(p.cfg.Fetch.Tags),
	)
	return nil
}

// Shutdown stops the pipeline: markers are queued, writers get up to the
// drain timeout to finish, stragglers are cancelled and storage is closed.
//
// Returns ErrEscalated (joined with any other failure) when a writer
// initiated the shutdown.
func (p *Pipeline) Shutdown(ctx context.Context, reason string) error {
	if !p.started.Load() {
		return ErrNotStarted
	}

	drainCtx, cancel := context.WithTimeout(ctx, p.cfg.DrainTimeout)
	defer cancel()

	var errs []error
	if err := p.coord.InitiateShutdown(drainCtx, reason); err != nil {
		errs = append(errs, err)
	}

	if err := p.pool.Wait(drainCtx); err != nil {
		p.logger.Warn("writers did not finish in time, cancelling", "remaining", p.pool.Remaining())
		errs = append(errs, err)
	}
	if p.cancelWorkers != nil {
		p.cancelWorkers()
	}

	if err := p.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage: %w", err))
	}

	if p.Escalated() {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEscalated, p.coord.Reason()))
	}

	p.logger.Info("pipeline stopped", "reason", p.coord.Reason())
	return errors.Join(errs...)
}

// Done is closed once a shutdown has been initiated, by anyone.
func (p *Pipeline) Done() <-chan struct{} {
	return p.coord.Done()
}

// Escalated reports whether a writer initiated the shutdown.
func (p *Pipeline) Escalated() bool {
	return p.coord.ByWriter()
}

// QueueLen returns the number of queued items.
func (p *Pipeline) QueueLen() int {
	return p.queue.Len()
}

// writerEscalation hands a writer's shutdown request to the coordinator,
// flagged as writer-initiated.
type writerEscalation struct {
	p *Pipeline
}

func (e writerEscalation) InitiateShutdown(ctx context.Context, reason string) error {
	return e.p.coord.initiate(ctx, reason, true)
}
