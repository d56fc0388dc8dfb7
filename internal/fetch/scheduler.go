package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/nerrad567/tag-ingest/internal/metrics"
	"github.com/nerrad567/tag-ingest/internal/record"
)

// DefaultStopTimeout bounds how long Close waits for running fetches.
const DefaultStopTimeout = 5 * time.Second

// Config describes the upstream endpoint and polling cadence.
type Config struct {
	APIURL   string
	UserKey  string
	Tags     []string
	Interval time.Duration
	Timeout  time.Duration

	// Location interprets OriTime; time.Local when nil.
	Location *time.Location

	// Root is the storage database prefixed to device paths.
	Root string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.APIURL == "":
		return fmt.Errorf("%w: api url is required", ErrInvalidConfig)
	case c.UserKey == "":
		return fmt.Errorf("%w: user key is required", ErrInvalidConfig)
	case len(c.Tags) == 0:
		return fmt.Errorf("%w: at least one tag is required", ErrInvalidConfig)
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Enqueuer accepts records without blocking.
type Enqueuer interface {
	TryEnqueue(item record.Item) bool
}

// FailureRecorder persists failed requests.
type FailureRecorder interface {
	LogFailedRequest(ctx context.Context, fr record.FailedRequest)
}

// Logger defines the logging interface used by the Scheduler. It is also
// handed to gocron.
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

func (noopRecorder) LogFailedRequest(context.Context, record.FailedRequest) {}

// Scheduler runs the periodic fetch.
//
// Thread Safety:
//   - Start, Close and FetchOnce are safe for concurrent use.
type Scheduler struct {
	cfg      Config
	queue    Enqueuer
	client   *http.Client
	failures FailureRecorder
	metrics  *metrics.Metrics
	logger   Logger
	stopWait time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cron     gocron.Scheduler
	job      gocron.Job
	running  bool
	stopping bool
	inflight sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.client = c
		}
	}
}

// WithFailureRecorder sets where failed requests are persisted.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.failures = r
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the scheduler logger.
func WithLogger(l Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStopTimeout sets how long Close waits for running fetches before
// cancelling them.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopWait = d
		}
	}
}

// New creates a stopped Scheduler.
func New(cfg Config, q Enqueuer, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		queue:    q,
		client:   &http.Client{},
		failures: noopRecorder{},
		logger:   noopLogger{},
		stopWait: DefaultStopTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start schedules the fetch job, first run immediately. Calling Start on a
// running scheduler does nothing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	cron, err := gocron.NewScheduler(
		gocron.WithStopTimeout(s.stopWait),
		gocron.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("creating fetch scheduler: %w", err)
	}

	job, err := cron.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(s.tick),
		gocron.WithName("upstream-fetch"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = cron.Shutdown()
		return fmt.Errorf("scheduling fetch job: %w", err)
	}

	s.cron = cron
	s.job = job
	s.running = true
	cron.Start()

	s.logger.Info("fetcher started", "interval", s.cfg.Interval, "tags", len(s.cfg.Tags))
	return nil
}

// Close stops the job, waits up to the stop timeout for running fetches,
// then cancels whatever is left. No record is enqueued after Close
// returns. Later calls do nothing.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	cron := s.cron
	s.mu.Unlock()

	var err error
	if cron != nil {
		if serr := cron.Shutdown(); serr != nil {
			err = fmt.Errorf("stopping fetch scheduler: %w", serr)
		}
	}

	if !s.waitInflight(s.stopWait) {
		s.logger.Warn("fetches still running after stop timeout, cancelling", "timeout", s.stopWait)
	}
	s.cancel()
	if !s.waitInflight(s.stopWait) {
		s.logger.Error("fetches did not exit after cancellation")
	}

	s.client.CloseIdleConnections()
	s.logger.Info("fetcher stopped")
	return err
}

// tick is the gocron task. The fetch runs in its own goroutine.
func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	job := s.job
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		_, _, _ = s.FetchOnce(s.ctx)
	}()

	if job != nil {
		if next, err := job.NextRun(); err == nil {
			s.logger.Debug("next fetch scheduled", "at", next.Format(time.RFC3339))
		}
	}
}

func (s *Scheduler) waitInflight(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
