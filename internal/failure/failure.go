// Package failure appends failed writes and failed fetch requests to
// daily plain-text files:
//
//	<dir>/failed_writes/failed_writes_2024-03-01.txt
//	<dir>/failed_requests/failed_requests_2024-03-01.txt
//
// One pipe-delimited line per event, as rendered by record.FailedWrite and
// record.FailedRequest. Directories are created on first use. Write errors
// are logged and swallowed so the pipeline never stalls on the audit trail.
//
// A Mirror, when configured, receives every event as well (the SQLite audit
// repository in production).
package failure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerrad567/tag-ingest/internal/record"
)

// File layout.
const (
	WritesDir   = "failed_writes"
	RequestsDir = "failed_requests"

	writesPrefix   = "failed_writes_"
	requestsPrefix = "failed_requests_"
	fileDateLayout = "2006-01-02"

	dirPermissions  = 0750
	filePermissions = 0640
)

// Mirror receives a copy of every failure event.
type Mirror interface {
	RecordWrite(ctx context.Context, fw record.FailedWrite) error
	RecordRequest(ctx context.Context, fr record.FailedRequest) error
}

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Recorder is the failure logger.
//
// Thread Safety:
//   - Safe for concurrent use; appends are serialised.
type Recorder struct {
	dir    string
	mirror Mirror
	logger Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMirror forwards every event to m.
func WithMirror(m Mirror) Option {
	return func(r *Recorder) { r.mirror = m }
}

// WithLogger sets where append errors are reported.
func WithLogger(l Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the clock used to pick the daily file.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a Recorder rooted at dir ("." when empty).
func New(dir string, opts ...Option) *Recorder {
	if dir == "" {
		dir = "."
	}
	r := &Recorder{
		dir:    dir,
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LogFailedWrite appends a failed write.
func (r *Recorder) LogFailedWrite(ctx context.Context, fw record.FailedWrite) {
	if err := r.append(WritesDir, writesPrefix, fw.String()); err != nil {
		r.logger.Error("failed to log failed write", "device", fw.DevicePath, "error", err)
	}
	if r.mirror != nil {
		if err := r.mirror.RecordWrite(ctx, fw); err != nil {
			r.logger.Error("failed to mirror failed write", "device", fw.DevicePath, "error", err)
		}
	}
}

// LogFailedRequest appends a failed fetch request.
func (r *Recorder) LogFailedRequest(ctx context.Context, fr record.FailedRequest) {
	if err := r.append(RequestsDir, requestsPrefix, fr.String()); err != nil {
		r.logger.Error("failed to log failed request", "status", fr.Status, "error", err)
	}
	if r.mirror != nil {
		if err := r.mirror.RecordRequest(ctx, fr); err != nil {
			r.logger.Error("failed to mirror failed request", "status", fr.Status, "error", err)
		}
	}
}

// WritesFile returns the failed-writes file for the given day.
func (r *Recorder) WritesFile(day time.Time) string {
	return filepath.Join(r.dir, WritesDir, writesPrefix+day.Format(fileDateLayout)+".txt")
}

// RequestsFile returns the failed-requests file for the given day.
func (r *Recorder) RequestsFile(day time.Time) string {
	return filepath.Join(r.dir, RequestsDir, requestsPrefix+day.Format(fileDateLayout)+".txt")
}

func (r *Recorder) append(sub, prefix, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Join(r.dir, sub)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	name := filepath.Join(dir, prefix+r.now().Format(fileDateLayout)+".txt")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePermissions)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}

	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close() //nolint:errcheck // Write error takes precedence
		return fmt.Errorf("appending to %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	return nil
}
