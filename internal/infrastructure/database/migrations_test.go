package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"sql/20260101_000000_events.up.sql":   {Data: []byte("CREATE TABLE events (id TEXT PRIMARY KEY);")},
		"sql/20260101_000000_events.down.sql": {Data: []byte("DROP TABLE events;")},
		"sql/20260102_000000_notes.up.sql":    {Data: []byte("CREATE TABLE notes (id TEXT PRIMARY KEY);")},
		"sql/README.md":                       {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys, "sql"); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "events") || !tableExists(t, db, "notes") {
		t.Fatal("migrated tables missing")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys, "sql")
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d; want 2, 0", len(applied), len(pending))
	}

	// Running again should be idempotent
	if err := db.Migrate(ctx, fsys, "sql"); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	// Only the first migration has down SQL.
	delete(fsys, "sql/20260102_000000_notes.up.sql")
	if err := db.Migrate(ctx, fsys, "sql"); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys, "sql"); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "events") {
		t.Error("events table still exists after MigrateDown()")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys, "sql")
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

func TestMigrateDownWithoutDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys, "sql"); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys, "sql"); err == nil {
		t.Error("MigrateDown() expected error for migration without down SQL")
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":  {Data: []byte("CREATE TABLE ok (id TEXT);")},
		"20260102_000000_bad.up.sql": {Data: []byte("CREATE TABLE bad (id TEXT); NOT VALID SQL;")},
	}

	if err := db.Migrate(ctx, fsys, "."); err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}
	if !tableExists(t, db, "ok") {
		t.Error("earlier migration was not kept")
	}
	if tableExists(t, db, "bad") {
		t.Error("failed migration was not rolled back")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
		up      bool
		ok      bool
	}{
		{"20260118_120000_failure_audit.up.sql", "20260118_120000", "failure_audit", true, true},
		{"20260118_120000_failure_audit.down.sql", "20260118_120000", "failure_audit", false, true},
		{"20260118_120000.up.sql", "20260118_120000", "20260118_120000", true, true},
		{"20260118.up.sql", "", "", false, false},
		{"20260118_120000_x.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.file)
			if version != tt.version || name != tt.name || up != tt.up || ok != tt.ok {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					tt.file, version, name, up, ok, tt.version, tt.name, tt.up, tt.ok)
			}
		})
	}
}
