package failure

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tag-ingest/internal/record"
)

type mirrorStub struct {
	mu       sync.Mutex
	writes   []record.FailedWrite
	requests []record.FailedRequest
	err      error
}

func (m *mirrorStub) RecordWrite(_ context.Context, fw record.FailedWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, fw)
	return m.err
}

func (m *mirrorStub) RecordRequest(_ context.Context, fr record.FailedRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, fr)
	return m.err
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 23, 59, 0, 0, time.Local)
}

func TestLogFailedWrite(t *testing.T) {
	dir := t.TempDir()
	rec := New(dir, WithClock(fixedClock))

	path := record.DevicePath("", "P1", "TI-101")
	recs := []record.Record{record.New("", "P1", "TI-101", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), nil)}
	fw, err := record.NewFailedWrite(path, recs, "insert failed")
	if err != nil {
		t.Fatalf("NewFailedWrite() error = %v", err)
	}

	rec.LogFailedWrite(context.Background(), fw)
	rec.LogFailedWrite(context.Background(), fw)

	file := rec.WritesFile(fixedClock())
	if !strings.HasSuffix(file, "failed_writes/failed_writes_2024-03-01.txt") {
		t.Errorf("WritesFile() = %s", file)
	}
	lines := readLines(t, file)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0] != fw.String() {
		t.Errorf("line = %q, want %q", lines[0], fw.String())
	}
}

func TestLogFailedRequest(t *testing.T) {
	dir := t.TempDir()
	rec := New(dir, WithClock(fixedClock))

	start := fixedClock()
	rec.LogFailedRequest(context.Background(), record.FailedRequest{
		Tag: "A,B", Start: start, End: start.Add(time.Second), Status: 502,
	})

	lines := readLines(t, rec.RequestsFile(fixedClock()))
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "|502|HTTP 502 error") {
		t.Errorf("lines = %v", lines)
	}
}

func TestMirrorReceivesEvents(t *testing.T) {
	m := &mirrorStub{err: errors.New("database locked")}
	rec := New(t.TempDir(), WithMirror(m))

	rec.LogFailedRequest(context.Background(), record.FailedRequest{Status: 0, Reason: "timeout", IncludeFullMessage: true})
	rec.LogFailedWrite(context.Background(), record.FailedWrite{Tag: "T", DevicePath: "root.cepco.`P`.`T`", PointCount: 1})

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) != 1 || len(m.requests) != 1 {
		t.Errorf("mirror got %d writes, %d requests; want 1, 1", len(m.writes), len(m.requests))
	}
}

func TestConcurrentAppends(t *testing.T) {
	rec := New(t.TempDir(), WithClock(fixedClock))
	fw := record.FailedWrite{Tag: "T", DevicePath: "root.cepco.`P`.`T`", PointCount: 3, Reason: "x"}

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.LogFailedWrite(context.Background(), fw)
		}()
	}
	wg.Wait()

	if lines := readLines(t, rec.WritesFile(fixedClock())); len(lines) != 20 {
		t.Errorf("got %d lines, want 20", len(lines))
	}
}
