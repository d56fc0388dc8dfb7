// Package audit mirrors failed writes and failed fetch requests into the
// SQLite audit database so they can be queried after the fact.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tag-ingest/internal/record"
)

// Kind selects which failure table to query.
type Kind string

// Failure kinds.
const (
	KindWrite   Kind = "write"
	KindRequest Kind = "request"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrUnknownKind is returned by List and Count for an unrecognised Kind.
var ErrUnknownKind = errors.New("audit: unknown failure kind")

// Entry is one stored failure. Write entries carry DevicePath and
// PointCount; request entries carry Status.
type Entry struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Tag        string    `json:"tag"`
	DevicePath string    `json:"device_path,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	PointCount int       `json:"point_count,omitempty"`
	Status     int       `json:"status,omitempty"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Filter controls which entries to return.
type Filter struct {
	Kind       Kind   // required
	DevicePath string // optional, write entries only
	Since      time.Time
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult contains a page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the audit operations.
type Repository interface {
	RecordWrite(ctx context.Context, fw record.FailedWrite) error
	RecordRequest(ctx context.Context, fr record.FailedRequest) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Count(ctx context.Context, kind Kind) (int, error)
}

// SQLiteRepository stores failures in the failed_writes and failed_requests
// tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// RecordWrite inserts a failed write.
func (r *SQLiteRepository) RecordWrite(ctx context.Context, fw record.FailedWrite) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO failed_writes (id, tag, device_path, start_time, end_time, point_count, reason, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), fw.Tag, fw.DevicePath,
		formatTime(fw.Start), formatTime(fw.End),
		fw.PointCount, fw.Reason,
		formatTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("inserting failed write: %w", err)
	}
	return nil
}

// RecordRequest inserts a failed fetch request. The stored reason is the
// full message regardless of how the text file renders it.
func (r *SQLiteRepository) RecordRequest(ctx context.Context, fr record.FailedRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO failed_requests (id, tags, start_time, end_time, status, reason, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), fr.Tag,
		formatTime(fr.Start), formatTime(fr.End),
		fr.Status, fr.Reason,
		formatTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("inserting failed request: %w", err)
	}
	return nil
}

// Count returns the number of stored entries of one kind.
func (r *SQLiteRepository) Count(ctx context.Context, kind Kind) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil { //nolint:gosec // table name from a fixed set
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	table, err := tableFor(filter.Kind)
	if err != nil {
		return nil, err
	}

	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DevicePath != "" && filter.Kind == KindWrite {
		conditions = append(conditions, "device_path = ?")
		args = append(args, filter.DevicePath)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting %s: %w", table, err)
	}

	var columns string
	if filter.Kind == KindWrite {
		columns = "id, tag, device_path, start_time, end_time, point_count, 0, reason, recorded_at"
	} else {
		columns = "id, tags, '', start_time, end_time, 0, status, reason, recorded_at"
	}
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT %s FROM %s %s ORDER BY recorded_at DESC, rowid DESC LIMIT ? OFFSET ?",
		columns, table, where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e := Entry{Kind: filter.Kind}
		var start, end, recorded string
		if err := rows.Scan(&e.ID, &e.Tag, &e.DevicePath, &start, &end,
			&e.PointCount, &e.Status, &e.Reason, &recorded); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		if e.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if e.End, err = parseTime(end); err != nil {
			return nil, err
		}
		if e.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", table, err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindWrite:
		return "failed_writes", nil
	case KindRequest:
		return "failed_requests", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing audit timestamp %q: %w", s, err)
	}
	return t, nil
}
