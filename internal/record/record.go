package record

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Upstream field names.
const (
	FieldPlantCode = "PlantCode"
	FieldOrgTag    = "org_tag"
	FieldOriTime   = "OriTime"
)

// Measurement names, in column order.
const (
	MeasurementQual       = "Qual"
	MeasurementColTime    = "ColTime"
	MeasurementStdTag     = "std_tag"
	MeasurementSensorType = "SensorType"
	MeasurementVal        = "Val"
)

// Measurements lists the fixed measurements every device carries, in the
// order they appear in a Tablet.
var Measurements = [...]string{
	MeasurementQual,
	MeasurementColTime,
	MeasurementStdTag,
	MeasurementSensorType,
	MeasurementVal,
}

// DefaultRoot is the storage database all device paths live under.
const DefaultRoot = "root.cepco"

// SourceTimeLayout is the layout of the upstream OriTime field.
const SourceTimeLayout = "2006-01-02 15:04:05"

// Record is one measurement sample for one plant tag.
type Record struct {
	root      string
	plant     string
	tag       string
	timestamp int64
	fields    map[string]string
}

// New creates a Record. The fields map is copied; only the known
// measurement names are kept.
func New(root, plant, tag string, ts time.Time, fields map[string]string) Record {
	if root == "" {
		root = DefaultRoot
	}
	kept := make(map[string]string, len(Measurements))
	for _, m := range Measurements {
		if v, ok := fields[m]; ok {
			kept[m] = v
		}
	}
	return Record{
		root:      root,
		plant:     plant,
		tag:       tag,
		timestamp: ts.UnixMilli(),
		fields:    kept,
	}
}

// FromSource converts one upstream object into a Record.
//
// OriTime is interpreted in loc (time.Local when nil). A missing plant code,
// tag or timestamp is reported as ErrInvalidRecord; missing measurements are
// not an error here and surface later as warnings when the Tablet is built.
func FromSource(root string, obj map[string]string, loc *time.Location) (Record, error) {
	if loc == nil {
		loc = time.Local
	}

	plant, ok := obj[FieldPlantCode]
	if !ok || plant == "" {
		return Record{}, fmt.Errorf("%w: missing %s", ErrInvalidRecord, FieldPlantCode)
	}
	tag, ok := obj[FieldOrgTag]
	if !ok || strings.TrimSpace(tag) == "" {
		return Record{}, fmt.Errorf("%w: missing %s", ErrInvalidRecord, FieldOrgTag)
	}
	raw, ok := obj[FieldOriTime]
	if !ok {
		return Record{}, fmt.Errorf("%w: missing %s", ErrInvalidRecord, FieldOriTime)
	}
	ts, err := time.ParseInLocation(SourceTimeLayout, raw, loc)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s %q: %w", ErrInvalidRecord, FieldOriTime, raw, err)
	}

	return New(root, plant, tag, ts, obj), nil
}

// DevicePath builds the storage path for a plant tag:
//
//	root.`plant`.`tag`
//
// The tag is trimmed of surrounding whitespace.
func DevicePath(root, plant, tag string) string {
	if root == "" {
		root = DefaultRoot
	}
	return fmt.Sprintf("%s.`%s`.`%s`", root, plant, strings.TrimSpace(tag))
}

// DeviceKey returns the storage device path of the record.
func (r Record) DeviceKey() string {
	return DevicePath(r.root, r.plant, r.tag)
}

// Plant returns the plant code.
func (r Record) Plant() string { return r.plant }

// Tag returns the original, untrimmed tag.
func (r Record) Tag() string { return r.tag }

// Timestamp returns the sample time in epoch milliseconds.
func (r Record) Timestamp() int64 { return r.timestamp }

// Time returns the sample time.
func (r Record) Time() time.Time { return time.UnixMilli(r.timestamp) }

// Field returns a measurement value and whether it was present.
func (r Record) Field(name string) (string, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns a copy of the measurement values.
func (r Record) Fields() map[string]string {
	return maps.Clone(r.fields)
}

func (r Record) String() string {
	return fmt.Sprintf("Record{path=%s, time=%s, fields=%v}",
		r.DeviceKey(), r.Time().Format(SourceTimeLayout), r.fields)
}
