package record

import (
	"fmt"
	"strings"
	"time"
)

// AuditTimeLayout formats the time range of audit entries.
const AuditTimeLayout = "2006-01-02 15:04:05"

// FailedWrite records a device write that could not be completed.
type FailedWrite struct {
	Tag        string
	DevicePath string
	Start      time.Time
	End        time.Time
	PointCount int
	Reason     string
}

// NewFailedWrite builds a FailedWrite for the records of one device.
// Start and End are the earliest and latest sample times, truncated to
// the second and expressed in UTC.
func NewFailedWrite(devicePath string, records []Record, reason string) (FailedWrite, error) {
	if len(records) == 0 {
		return FailedWrite{}, ErrEmptyGroup
	}

	lo, hi := records[0].Timestamp(), records[0].Timestamp()
	for _, r := range records[1:] {
		ts := r.Timestamp()
		if ts < lo {
			lo = ts
		}
		if ts > hi {
			hi = ts
		}
	}

	return FailedWrite{
		Tag:        TagFromPath(devicePath),
		DevicePath: devicePath,
		Start:      time.Unix(lo/1000, 0).UTC(),
		End:        time.Unix(hi/1000, 0).UTC(),
		PointCount: len(records),
		Reason:     reason,
	}, nil
}

// TagFromPath returns the last segment of a device path without its
// backtick quoting.
func TagFromPath(devicePath string) string {
	tag := devicePath
	if i := strings.LastIndex(devicePath, "."); i >= 0 {
		tag = devicePath[i+1:]
	}
	return strings.ReplaceAll(tag, "`", "")
}

// String renders the entry as tag|start|end|devicePath|pointCount|reason.
func (f FailedWrite) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		f.Tag,
		f.Start.UTC().Format(AuditTimeLayout),
		f.End.UTC().Format(AuditTimeLayout),
		f.DevicePath,
		f.PointCount,
		oneLine(f.Reason),
	)
}

// FailedRequest records an upstream fetch that did not yield data.
// Status is 0 when no HTTP response was received.
type FailedRequest struct {
	Tag                string
	Start              time.Time
	End                time.Time
	Status             int
	Reason             string
	IncludeFullMessage bool
}

// String renders the entry as tag|start|end|status|reason with times in
// UTC, like FailedWrite. Unless the full message is included, the reason is
// reduced to "HTTP <status> error".
func (f FailedRequest) String() string {
	reason := f.Reason
	if !f.IncludeFullMessage {
		reason = fmt.Sprintf("HTTP %d error", f.Status)
	}
	return fmt.Sprintf("%s|%s|%s|%d|%s",
		f.Tag,
		f.Start.UTC().Format(AuditTimeLayout),
		f.End.UTC().Format(AuditTimeLayout),
		f.Status,
		oneLine(reason),
	)
}

// oneLine keeps audit entries on a single line.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
