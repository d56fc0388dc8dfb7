package storage

import (
	"context"

	"github.com/nerrad567/tag-ingest/internal/record"
)

// Engine is the storage service consumed by the pipeline.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// CreateDatabase creates the named database. ErrAlreadyExists if present.
	CreateDatabase(ctx context.Context, name string) error

	// ListTemplates returns the names of all schema templates.
	ListTemplates(ctx context.Context) ([]string, error)

	// CreateTemplate registers a schema template.
	CreateTemplate(ctx context.Context, tmpl Template) error

	// SetTemplate binds a template to a device path. ErrAlreadyExists if bound.
	SetTemplate(ctx context.Context, template, devicePath string) error

	// InsertTablet writes every row of the tablet.
	InsertTablet(ctx context.Context, tablet *record.Tablet) error

	// Ping is the cheap liveness probe.
	Ping(ctx context.Context) error

	// Close releases the pool. Later calls fail with ErrPoolClosed.
	Close() error
}

// Dialer builds a new Engine. The Manager calls it at start and on rebuild.
type Dialer func(ctx context.Context) (Engine, error)

// DataType is the stored type of a measurement.
type DataType string

// Measurement storage options.
const (
	TypeText       DataType = "TEXT"
	EncodingPlain           = "PLAIN"
	CompressSnappy          = "SNAPPY"
)

// MeasurementSpec describes one measurement of a template.
type MeasurementSpec struct {
	Name        string
	Type        DataType
	Encoding    string
	Compression string
}

// Template is a named set of measurements bound to devices.
type Template struct {
	Name         string
	Aligned      bool
	Measurements []MeasurementSpec
}

// DefaultTemplate returns the template for plant tag readings: every
// record.Measurements entry as plain, snappy-compressed text.
func DefaultTemplate(name string) Template {
	t := Template{Name: name, Aligned: true}
	for _, m := range record.Measurements {
		t.Measurements = append(t.Measurements, MeasurementSpec{
			Name:        m,
			Type:        TypeText,
			Encoding:    EncodingPlain,
			Compression: CompressSnappy,
		})
	}
	return t
}
