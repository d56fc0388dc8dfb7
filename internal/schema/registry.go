package schema

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/tag-ingest/internal/record"
	"github.com/nerrad567/tag-ingest/internal/retry"
	"github.com/nerrad567/tag-ingest/internal/storage"
)

// Defaults.
const (
	DefaultTemplate  = "druid_t"
	DefaultBatchSize = 100
)

// Conn hands out the current storage engine.
type Conn interface {
	Engine() storage.Engine
}

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry creates the schema and binds devices to it.
//
// Thread Safety:
//   - Safe for concurrent use, although each writer normally owns one.
type Registry struct {
	conn      Conn
	exec      *retry.Executor
	template  string
	database  string
	batchSize int
	logger    Logger

	mu        sync.RWMutex
	validated map[string]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithTemplate sets the template name.
func WithTemplate(name string) Option {
	return func(r *Registry) {
		if name != "" {
			r.template = name
		}
	}
}

// WithDatabase sets the root database.
func WithDatabase(name string) Option {
	return func(r *Registry) {
		if name != "" {
			r.database = name
		}
	}
}

// WithBatchSize sets how many devices are bound per retried operation.
func WithBatchSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a Registry with an empty cache.
func NewRegistry(conn Conn, exec *retry.Executor, opts ...Option) *Registry {
	r := &Registry{
		conn:      conn,
		exec:      exec,
		template:  DefaultTemplate,
		database:  record.DefaultRoot,
		batchSize: DefaultBatchSize,
		logger:    noopLogger{},
		validated: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitializeSchema creates the template if it is missing, then the root
// database. Existing objects are not an error.
func (r *Registry) InitializeSchema(ctx context.Context) error {
	if err := r.ensureTemplate(ctx); err != nil {
		return err
	}
	return r.ensureDatabase(ctx)
}

func (r *Registry) ensureTemplate(ctx context.Context) error {
	r.logger.Info("checking schema template", "template", r.template)

	names, err := retry.Do(ctx, r.exec, "list templates", func(ctx context.Context) ([]string, error) {
		return r.engine().ListTemplates(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: checking template %s: %w", ErrInitialization, r.template, err)
	}

	if slices.Contains(names, r.template) {
		r.logger.Info("schema template already exists", "template", r.template)
		return nil
	}

	err = retry.Run(ctx, r.exec, "create template", func(ctx context.Context) error {
		err := r.engine().CreateTemplate(ctx, storage.DefaultTemplate(r.template))
		if err != nil && storage.IsAlreadyExists(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: creating template %s: %w", ErrInitialization, r.template, err)
	}

	r.logger.Info("created schema template", "template", r.template)
	return nil
}

func (r *Registry) ensureDatabase(ctx context.Context) error {
	r.logger.Info("ensuring root database exists", "database", r.database)

	existed := false
	err := retry.Run(ctx, r.exec, "create database", func(ctx context.Context) error {
		err := r.engine().CreateDatabase(ctx, r.database)
		if err != nil && storage.IsAlreadyExists(err) {
			existed = true
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: creating database %s: %w", ErrInitialization, r.database, err)
	}

	if existed {
		r.logger.Info("root database already exists", "database", r.database)
	} else {
		r.logger.Info("created root database", "database", r.database)
	}
	return nil
}

// ValidateDevices binds every device path in batch that this Registry has
// not validated yet.
//
// New paths are bound in chunks of the configured batch size, each chunk in
// one retried operation. An "already exists" answer counts as success. The
// first other failure aborts the remaining chunks and is returned wrapped
// in ErrValidation; only the first line of its message is logged.
func (r *Registry) ValidateDevices(ctx context.Context, batch record.Batch) error {
	pending := r.pending(batch.DeviceKeys())
	if len(pending) == 0 {
		return nil
	}

	start := time.Now()
	r.logger.Debug("validating schema for new devices", "count", len(pending))

	for chunk := range slices.Chunk(pending, r.batchSize) {
		err := retry.Run(ctx, r.exec, "schema validation", func(ctx context.Context) error {
			return r.bind(ctx, chunk)
		})
		if err != nil {
			r.logger.Error("schema validation failed",
				"elapsed", time.Since(start),
				"error", firstLine(err.Error()),
			)
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}

	r.logger.Debug("schema validation completed", "count", len(pending), "elapsed", time.Since(start))
	return nil
}

// IsValidated reports whether a device path is in the cache.
func (r *Registry) IsValidated(devicePath string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.validated[devicePath]
	return ok
}

// bind applies the template to each path not yet validated. Paths bound by
// an earlier attempt of the same chunk are skipped.
func (r *Registry) bind(ctx context.Context, paths []string) error {
	engine := r.engine()
	if engine == nil {
		return storage.ErrNotAvailable
	}

	for _, path := range paths {
		if r.IsValidated(path) {
			continue
		}
		if err := engine.SetTemplate(ctx, r.template, path); err != nil && !storage.IsAlreadyExists(err) {
			return err
		}
		r.mu.Lock()
		r.validated[path] = struct{}{}
		r.mu.Unlock()
	}
	return nil
}

func (r *Registry) pending(keys []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, k := range keys {
		if _, ok := r.validated[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func (r *Registry) engine() storage.Engine {
	return r.conn.Engine()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
