package schema

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/tag-ingest/internal/record"
	"github.com/nerrad567/tag-ingest/internal/retry"
	"github.com/nerrad567/tag-ingest/internal/storage"
	"github.com/nerrad567/tag-ingest/internal/storage/storagetest"
)

type staticConn struct {
	engine storage.Engine
}

func (c staticConn) Engine() storage.Engine { return c.engine }

func fastRetry() *retry.Executor {
	return retry.NewExecutor(retry.Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		MaxAttempts:  2,
		Multiplier:   2,
	})
}

func batchFor(tags ...string) record.Batch {
	var b record.Batch
	for i, tag := range tags {
		b = append(b, record.New("", "P1", tag, time.UnixMilli(int64(i)), nil))
	}
	return b
}

// =============================================================================
// InitializeSchema Tests
// =============================================================================

func TestInitializeSchema(t *testing.T) {
	eng := storagetest.NewEngine()
	reg := NewRegistry(staticConn{eng}, fastRetry())

	if err := reg.InitializeSchema(context.Background()); err != nil {
		t.Fatalf("InitializeSchema() error = %v", err)
	}

	if got := eng.Templates(); len(got) != 1 || got[0] != DefaultTemplate {
		t.Errorf("Templates() = %v, want [%s]", got, DefaultTemplate)
	}
	if !eng.HasDatabase(record.DefaultRoot) {
		t.Errorf("database %s not created", record.DefaultRoot)
	}

	// Everything exists now; a second run must still succeed.
	if err := reg.InitializeSchema(context.Background()); err != nil {
		t.Errorf("second InitializeSchema() error = %v", err)
	}
}

func TestInitializeSchemaDatabaseFailure(t *testing.T) {
	eng := storagetest.NewEngine()
	eng.CreateDBErr = func(string) error {
		return fmt.Errorf("%w: 403 insufficient permissions", retry.ErrNonRetryable)
	}
	reg := NewRegistry(staticConn{eng}, fastRetry(), WithDatabase("root.test"))

	err := reg.InitializeSchema(context.Background())
	if !errors.Is(err, ErrInitialization) {
		t.Errorf("InitializeSchema() error = %v, want ErrInitialization", err)
	}
}

func TestInitializeSchemaDatabaseErrorNamingDatabase(t *testing.T) {
	eng := storagetest.NewEngine()
	eng.CreateDBErr = func(name string) error {
		return fmt.Errorf("create bucket %s: %w: forbidden: insufficient permissions", name, retry.ErrNonRetryable)
	}
	reg := NewRegistry(staticConn{eng}, fastRetry(), WithDatabase("root.test"))

	err := reg.InitializeSchema(context.Background())
	if !errors.Is(err, ErrInitialization) {
		t.Fatalf("InitializeSchema() error = %v, want ErrInitialization", err)
	}
	if eng.HasDatabase("root.test") {
		t.Error("database recorded as created after a refused create")
	}
}

// =============================================================================
// ValidateDevices Tests
// =============================================================================

func TestValidateDevicesCachesBindings(t *testing.T) {
	eng := storagetest.NewEngine()
	reg := NewRegistry(staticConn{eng}, fastRetry())
	batch := batchFor("A", "A", "B")
	pathA := record.DevicePath("", "P1", "A")

	for i := range 2 {
		if err := reg.ValidateDevices(context.Background(), batch); err != nil {
			t.Fatalf("ValidateDevices() call %d error = %v", i+1, err)
		}
	}

	if got := eng.SetTemplateCalls(pathA); got != 1 {
		t.Errorf("SetTemplate calls for A = %d, want 1", got)
	}
	if !reg.IsValidated(pathA) {
		t.Error("IsValidated(A) = false")
	}
}

func TestValidateDevicesAlreadyBound(t *testing.T) {
	eng := storagetest.NewEngine()
	path := record.DevicePath("", "P1", "A")
	_ = eng.SetTemplate(context.Background(), DefaultTemplate, path)

	reg := NewRegistry(staticConn{eng}, fastRetry())
	if err := reg.ValidateDevices(context.Background(), batchFor("A")); err != nil {
		t.Fatalf("ValidateDevices() error = %v", err)
	}
	if !reg.IsValidated(path) {
		t.Error("already-bound device not cached")
	}
}

func TestValidateDevicesChunks(t *testing.T) {
	eng := storagetest.NewEngine()
	reg := NewRegistry(staticConn{eng}, fastRetry())

	var tags []string
	for i := range 250 {
		tags = append(tags, fmt.Sprintf("T%03d", i))
	}
	if err := reg.ValidateDevices(context.Background(), batchFor(tags...)); err != nil {
		t.Fatalf("ValidateDevices() error = %v", err)
	}
	for _, tag := range tags {
		if !reg.IsValidated(record.DevicePath("", "P1", tag)) {
			t.Fatalf("device %s not validated", tag)
		}
	}
}

func TestValidateDevicesAbortsRemainingChunks(t *testing.T) {
	eng := storagetest.NewEngine()
	failing := record.DevicePath("", "P1", "C")
	eng.SetTemplateErr = func(path string) error {
		if path == failing {
			return fmt.Errorf("%w: illegal path\nstack trace line", retry.ErrNonRetryable)
		}
		return nil
	}
	reg := NewRegistry(staticConn{eng}, fastRetry(), WithBatchSize(2))

	err := reg.ValidateDevices(context.Background(), batchFor("A", "B", "C", "D", "E"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ValidateDevices() error = %v, want ErrValidation", err)
	}

	if !reg.IsValidated(record.DevicePath("", "P1", "A")) {
		t.Error("device in first chunk not cached")
	}
	if got := eng.SetTemplateCalls(record.DevicePath("", "P1", "E")); got != 0 {
		t.Errorf("SetTemplate calls for E = %d, want 0 after abort", got)
	}
}

func TestValidateDevicesConnectionFault(t *testing.T) {
	eng := storagetest.NewEngine()
	eng.SetTemplateErr = func(string) error { return storage.ErrPoolClosed }
	reg := NewRegistry(staticConn{eng}, fastRetry())

	err := reg.ValidateDevices(context.Background(), batchFor("A"))
	if !storage.IsConnectionFault(err) {
		t.Errorf("ValidateDevices() error = %v, want connection fault", err)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one\ntwo"); got != "one" {
		t.Errorf("firstLine() = %q, want one", got)
	}
	if got := firstLine("single"); got != "single" {
		t.Errorf("firstLine() = %q, want single", got)
	}
}
