package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, tagsFile string) string {
	t.Helper()

	content := `
source:
  api_url: "http://127.0.0.1:1/api/values"
  user_key: "test-key"
  tags_file: "` + tagsFile + `"
  timezone: "UTC"

storage:
  host: "127.0.0.1"
  port: 1
  connect_timeout_ms: 500

failures:
  dir: "` + dir + `"

logging:
  level: error
  format: text
  output: stdout
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("TAGINGEST_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_MissingTagsFile verifies run fails before dialling storage when
// the tag list cannot be read.
func TestRun_MissingTagsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TAGINGEST_CONFIG", writeConfig(t, dir, filepath.Join(dir, "missing.csv")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with a missing tags file")
	}
	if !strings.Contains(err.Error(), "loading tags") {
		t.Errorf("run() error = %v, want loading tags error", err)
	}
}

// TestRun_StorageUnreachable verifies run fails when the first dial fails.
func TestRun_StorageUnreachable(t *testing.T) {
	dir := t.TempDir()
	tags := filepath.Join(dir, "tags.csv")
	if err := os.WriteFile(tags, []byte("T1,T2\nT3\n"), 0600); err != nil {
		t.Fatalf("failed to write tags: %v", err)
	}
	t.Setenv("TAGINGEST_CONFIG", writeConfig(t, dir, tags))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when storage is unreachable")
	}
	if !strings.Contains(err.Error(), "connecting to storage") {
		t.Errorf("run() error = %v, want storage connection error", err)
	}
}
