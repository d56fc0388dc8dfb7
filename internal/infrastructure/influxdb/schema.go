package influxdb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/tag-ingest/internal/retry"
	"github.com/nerrad567/tag-ingest/internal/storage"
)

// Schema point names.
const (
	templateMeasurement = "schema_template"
	bindingMeasurement  = "schema_binding"

	templateTag = "template"
	deviceTag   = "device"
	alignedKey  = "aligned"
)

// listTemplatesQuery returns one row per template in the schema bucket.
const listTemplatesQuery = `from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q and r._field == %q)
  |> last()
  |> keep(columns: [%q])`

// schemaEpoch is the timestamp of every schema point.
var schemaEpoch = time.Unix(0, 0)

// CreateDatabase creates a bucket named after the database. An existing
// bucket yields storage.ErrAlreadyExists.
func (e *Engine) CreateDatabase(ctx context.Context, name string) error {
	if e.closed.Load() {
		return storage.ErrPoolClosed
	}
	org, err := e.organization(ctx)
	if err != nil {
		return err
	}
	if org.Id == nil {
		return fmt.Errorf("%w: organization %s has no id", retry.ErrNonRetryable, e.cfg.Org)
	}
	if _, err := e.client.BucketsAPI().CreateBucketWithName(ctx, org, name); err != nil {
		return translate("create bucket "+name, err)
	}
	return nil
}

// ListTemplates returns the template names stored in the schema bucket.
// A schema bucket that does not exist yet holds no templates.
func (e *Engine) ListTemplates(ctx context.Context) ([]string, error) {
	if e.closed.Load() {
		return nil, storage.ErrPoolClosed
	}

	flux := fmt.Sprintf(listTemplatesQuery, e.cfg.SchemaBucket, templateMeasurement, alignedKey, templateTag)
	result, err := e.client.QueryAPI(e.cfg.Org).Query(ctx, flux)
	if err != nil {
		err = translate("list templates", err)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer result.Close() //nolint:errcheck // Read-only result

	var names []string
	for result.Next() {
		name, ok := result.Record().ValueByKey(templateTag).(string)
		if !ok || name == "" || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
	}
	if err := result.Err(); err != nil {
		return nil, translate("list templates", err)
	}

	e.mu.Lock()
	for _, n := range names {
		e.templates[n] = struct{}{}
	}
	e.mu.Unlock()

	slices.Sort(names)
	return names, nil
}

// CreateTemplate stores the template in the schema bucket, creating the
// bucket on first use. Rewriting an existing template replaces it.
func (e *Engine) CreateTemplate(ctx context.Context, tmpl storage.Template) error {
	if tmpl.Name == "" || len(tmpl.Measurements) == 0 {
		return fmt.Errorf("%w: template needs a name and measurements", retry.ErrNonRetryable)
	}
	if err := e.CreateDatabase(ctx, e.cfg.SchemaBucket); err != nil && !storage.IsAlreadyExists(err) {
		return err
	}

	w, err := e.writer(e.cfg.SchemaBucket)
	if err != nil {
		return err
	}

	p := write.NewPointWithMeasurement(templateMeasurement).
		AddTag(templateTag, tmpl.Name).
		AddField(alignedKey, tmpl.Aligned).
		SetTime(schemaEpoch)
	for _, m := range tmpl.Measurements {
		p.AddField(m.Name, strings.Join([]string{string(m.Type), m.Encoding, m.Compression}, "/"))
	}

	if err := w.WritePoint(ctx, p); err != nil {
		return translate("create template "+tmpl.Name, err)
	}

	e.mu.Lock()
	e.templates[tmpl.Name] = struct{}{}
	e.mu.Unlock()
	return nil
}

// SetTemplate binds a device path to a known template.
func (e *Engine) SetTemplate(ctx context.Context, template, devicePath string) error {
	known, err := e.hasTemplate(ctx, template)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %w: %s", retry.ErrNonRetryable, ErrTemplateNotFound, template)
	}

	w, err := e.writer(e.cfg.SchemaBucket)
	if err != nil {
		return err
	}

	p := write.NewPointWithMeasurement(bindingMeasurement).
		AddTag(deviceTag, devicePath).
		AddField(templateTag, template).
		SetTime(schemaEpoch)
	if err := w.WritePoint(ctx, p); err != nil {
		return translate("set template on "+devicePath, err)
	}
	return nil
}

func (e *Engine) hasTemplate(ctx context.Context, name string) (bool, error) {
	e.mu.RLock()
	_, ok := e.templates[name]
	e.mu.RUnlock()
	if ok {
		return true, nil
	}

	names, err := e.ListTemplates(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}
