package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/tag-ingest/internal/infrastructure/config"
	"github.com/nerrad567/tag-ingest/internal/infrastructure/database"
	"github.com/nerrad567/tag-ingest/internal/record"
	"github.com/nerrad567/tag-ingest/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	repo := NewSQLiteRepository(db.DB)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return repo
}

func sampleWrite(path string) record.FailedWrite {
	return record.FailedWrite{
		Tag:        record.TagFromPath(path),
		DevicePath: path,
		Start:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC),
		PointCount: 3,
		Reason:     "insert failed",
	}
}

// ============================================================================
// Recording
// ============================================================================

func TestRecordWrite(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	fw := sampleWrite("root.cepco.`P1`.`T1`")
	if err := repo.RecordWrite(ctx, fw); err != nil {
		t.Fatalf("RecordWrite() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{Kind: KindWrite})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("Total = %d, entries = %d; want 1, 1", res.Total, len(res.Entries))
	}

	got := res.Entries[0]
	if got.ID == "" {
		t.Error("ID is empty")
	}
	if got.Tag != "T1" || got.DevicePath != fw.DevicePath || got.PointCount != 3 || got.Reason != "insert failed" {
		t.Errorf("entry = %+v", got)
	}
	if !got.Start.Equal(fw.Start) || !got.End.Equal(fw.End) {
		t.Errorf("range = %v..%v, want %v..%v", got.Start, got.End, fw.Start, fw.End)
	}
	if got.Kind != KindWrite {
		t.Errorf("Kind = %q, want %q", got.Kind, KindWrite)
	}
}

func TestRecordRequestKeepsFullReason(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	fr := record.FailedRequest{
		Tag:    "T1,T2",
		Start:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC),
		Status: 503,
		Reason: "upstream maintenance",
	}
	if err := repo.RecordRequest(ctx, fr); err != nil {
		t.Fatalf("RecordRequest() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{Kind: KindRequest})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(res.Entries))
	}
	got := res.Entries[0]
	if got.Tag != "T1,T2" || got.Status != 503 || got.Reason != "upstream maintenance" {
		t.Errorf("entry = %+v", got)
	}
	if got.DevicePath != "" || got.PointCount != 0 {
		t.Errorf("request entry carries write fields: %+v", got)
	}
}

// ============================================================================
// Querying
// ============================================================================

func TestListPagination(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	for _, tag := range []string{"A", "B", "C"} {
		if err := repo.RecordWrite(ctx, sampleWrite("root.cepco.`P1`.`"+tag+"`")); err != nil {
			t.Fatalf("RecordWrite() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Kind: KindWrite, Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 || len(res.Entries) != 2 {
		t.Fatalf("Total = %d, entries = %d; want 3, 2", res.Total, len(res.Entries))
	}
	if res.Entries[0].Tag != "C" || res.Entries[1].Tag != "B" {
		t.Errorf("order = %s, %s; want C, B", res.Entries[0].Tag, res.Entries[1].Tag)
	}

	res, err = repo.List(ctx, Filter{Kind: KindWrite, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Tag != "A" {
		t.Errorf("second page = %+v", res.Entries)
	}
}

func TestListFilters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.RecordWrite(ctx, sampleWrite("root.cepco.`P1`.`A`")); err != nil {
		t.Fatalf("RecordWrite() error = %v", err)
	}
	if err := repo.RecordWrite(ctx, sampleWrite("root.cepco.`P1`.`B`")); err != nil {
		t.Fatalf("RecordWrite() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{Kind: KindWrite, DevicePath: "root.cepco.`P1`.`B`"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].Tag != "B" {
		t.Errorf("device filter = %+v", res)
	}

	// The clock advances one second per insert: A at :01, B at :02.
	since := time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)
	res, err = repo.List(ctx, Filter{Kind: KindWrite, Since: since})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].Tag != "B" {
		t.Errorf("since filter = %+v", res)
	}
}

func TestListLimitClamp(t *testing.T) {
	repo := setupRepo(t)

	res, err := repo.List(context.Background(), Filter{Kind: KindRequest, Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("Limit = %d, Offset = %d; want %d, 0", res.Limit, res.Offset, MaxLimit)
	}
	if res.Entries == nil {
		t.Error("Entries is nil, want empty slice")
	}
}

func TestCount(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.RecordRequest(ctx, record.FailedRequest{Tag: "T1", Status: 0, Reason: "dial tcp: refused"}); err != nil {
		t.Fatalf("RecordRequest() error = %v", err)
	}

	n, err := repo.Count(ctx, KindRequest)
	if err != nil || n != 1 {
		t.Errorf("Count(request) = %d, %v; want 1", n, err)
	}
	n, err = repo.Count(ctx, KindWrite)
	if err != nil || n != 0 {
		t.Errorf("Count(write) = %d, %v; want 0", n, err)
	}
}

func TestUnknownKind(t *testing.T) {
	repo := setupRepo(t)

	if _, err := repo.List(context.Background(), Filter{}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("List() error = %v, want ErrUnknownKind", err)
	}
	if _, err := repo.Count(context.Background(), "other"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Count() error = %v, want ErrUnknownKind", err)
	}
}
