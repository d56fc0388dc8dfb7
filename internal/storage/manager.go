package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/tag-ingest/internal/retry"
)

// Manager defaults.
const (
	// DefaultMonitorInterval is the time between liveness probes.
	DefaultMonitorInterval = 5 * time.Second

	// DefaultStopTimeout bounds how long Close waits for the monitor.
	DefaultStopTimeout = 5 * time.Second

	rebuildKey = "rebuild"
)

// Logger defines the logging interface used by the Manager.
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

// StateFunc observes availability transitions. err is the probe failure
// when available is false.
type StateFunc func(available bool, err error)

// Manager owns the storage Engine, tracks whether it is reachable, and
// rebuilds it when the pool goes bad.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Rebuilds are serialised; concurrent requests share one rebuild.
type Manager struct {
	dial      Dialer
	exec      *retry.Executor
	logger    Logger
	interval  time.Duration
	stopWait  time.Duration
	available atomic.Bool

	engineMu sync.RWMutex
	engine   Engine

	rebuilds  singleflight.Group
	rebuildMu sync.Mutex

	observerMu sync.RWMutex
	observers  []StateFunc

	closeOnce sync.Once
	closed    atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithInterval sets the monitor probe interval.
func WithInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithStopTimeout sets how long Close waits for the monitor goroutine.
func WithStopTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.stopWait = d
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager dials the first Engine and starts the health monitor.
//
// Parameters:
//   - ctx: bounds the initial dial only
//   - dial: builds an Engine, called again on every rebuild
//   - exec: retry policy for liveness probes
//
// Returns:
//   - *Manager: running manager, available until a probe fails
//   - error: wrapping ErrConnection if the first dial fails
func NewManager(ctx context.Context, dial Dialer, exec *retry.Executor, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		dial:     dial,
		exec:     exec,
		logger:   noopLogger{},
		interval: DefaultMonitorInterval,
		stopWait: DefaultStopTimeout,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	engine, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: initialising pool: %w", ErrConnection, err)
	}
	m.engine = engine
	m.available.Store(true)
	m.logger.Info("storage connection pool initialised")

	monitorCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.monitor(monitorCtx)

	return m, nil
}

// Engine returns the current engine handle. The handle may be replaced by
// a rebuild, so callers should fetch it per operation rather than keep it.
func (m *Manager) Engine() Engine {
	m.engineMu.RLock()
	defer m.engineMu.RUnlock()
	return m.engine
}

// IsAvailable reports the last observed availability.
func (m *Manager) IsAvailable() bool {
	return m.available.Load()
}

// OnStateChange registers an observer for availability transitions.
func (m *Manager) OnStateChange(fn StateFunc) {
	m.observerMu.Lock()
	m.observers = append(m.observers, fn)
	m.observerMu.Unlock()
}

// CheckConnection probes the engine through the retry executor. It never
// returns an error: failures mark the manager unavailable and yield false.
//
// A probe failing because the pool is defunct triggers a rebuild inside the
// attempt, so the next attempt runs against the fresh pool.
func (m *Manager) CheckConnection(ctx context.Context) bool {
	if m.closed.Load() {
		return false
	}

	err := retry.Run(ctx, m.exec, "storage connection check", func(ctx context.Context) error {
		engine := m.Engine()
		if engine == nil {
			m.logger.Warn("storage engine missing, rebuilding pool")
			if rerr := m.rebuild(ctx); rerr != nil {
				return rerr
			}
			return ErrPoolClosed
		}

		if err := engine.Ping(ctx); err != nil {
			if IsPoolDefunct(err) {
				m.logger.Warn("connection pool issue detected, rebuilding", "error", err)
				if rerr := m.rebuild(ctx); rerr != nil {
					m.logger.Error("storage pool rebuild failed", "error", rerr)
				}
			}
			return err
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, retry.ErrInterrupted) && m.closed.Load() {
			return false
		}
		m.setAvailable(false, err)
		return false
	}

	m.setAvailable(true, nil)
	return true
}

// Close stops the monitor, waiting up to the stop timeout, then closes the
// engine. Subsequent calls do nothing.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.logger.Info("shutting down storage connection manager")
		m.closed.Store(true)
		m.cancel()

		timer := time.NewTimer(m.stopWait)
		select {
		case <-m.done:
		case <-timer.C:
			m.logger.Warn("storage monitor did not stop in time", "timeout", m.stopWait)
		}
		timer.Stop()

		m.rebuildMu.Lock()
		defer m.rebuildMu.Unlock()

		if engine := m.Engine(); engine != nil {
			if cerr := engine.Close(); cerr != nil {
				err = fmt.Errorf("closing storage engine: %w", cerr)
				return
			}
		}
		m.logger.Info("storage connection pool closed")
	})
	return err
}

// monitor probes the engine every interval until ctx ends. The first probe
// runs one interval after start.
func (m *Manager) monitor(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("storage monitor stopped")
			return
		case <-ticker.C:
		}

		if !m.CheckConnection(ctx) && ctx.Err() == nil {
			m.logger.Error("storage connection is not available, will retry", "interval", m.interval)
		}
	}
}

// rebuild dials a fresh engine, swaps it in and closes the old one.
func (m *Manager) rebuild(ctx context.Context) error {
	_, err, _ := m.rebuilds.Do(rebuildKey, func() (any, error) {
		m.rebuildMu.Lock()
		defer m.rebuildMu.Unlock()

		if m.closed.Load() {
			return nil, ErrManagerClosed
		}

		m.logger.Info("reinitialising storage connection pool")
		fresh, err := m.dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: redial: %w", ErrConnection, err)
		}

		m.engineMu.Lock()
		old := m.engine
		m.engine = fresh
		m.engineMu.Unlock()

		if old != nil {
			if cerr := old.Close(); cerr != nil && !errors.Is(cerr, ErrPoolClosed) {
				m.logger.Warn("error closing old storage pool", "error", cerr)
			}
		}
		return nil, nil
	})
	return err
}

func (m *Manager) setAvailable(available bool, err error) {
	if m.available.Swap(available) == available {
		return
	}

	if available {
		m.logger.Info("storage connection restored")
	} else {
		m.logger.Error("storage connection lost", "error", err)
	}

	m.observerMu.RLock()
	observers := append([]StateFunc(nil), m.observers...)
	m.observerMu.RUnlock()
	for _, fn := range observers {
		fn(available, err)
	}
}
