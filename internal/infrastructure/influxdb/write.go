package influxdb

import (
	"context"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/tag-ingest/internal/record"
)

// readingMeasurement names the points written for tablet rows.
const readingMeasurement = "reading"

// InsertTablet writes every row of the tablet to the database bucket in
// one blocking request. The bucket is the root of the device path.
func (e *Engine) InsertTablet(ctx context.Context, tablet *record.Tablet) error {
	points := TabletPoints(tablet)
	if len(points) == 0 {
		return nil
	}

	w, err := e.writer(bucketFor(tablet.DevicePath))
	if err != nil {
		return err
	}
	if err := w.WritePoint(ctx, points...); err != nil {
		return translate("insert tablet for "+tablet.DevicePath, err)
	}
	return nil
}

// TabletPoints converts a tablet into one point per row carrying the
// present measurements as string fields. Rows with no measurement at all
// produce no point.
func TabletPoints(tablet *record.Tablet) []*write.Point {
	points := make([]*write.Point, 0, tablet.Rows())
	for row := range tablet.Rows() {
		p := write.NewPointWithMeasurement(readingMeasurement).
			AddTag(deviceTag, tablet.DevicePath).
			SetTime(time.UnixMilli(tablet.Timestamps[row]))

		fields := 0
		for m, name := range record.Measurements {
			if v, ok := tablet.Value(m, row); ok {
				p.AddField(name, v)
				fields++
			}
		}
		if fields > 0 {
			points = append(points, p)
		}
	}
	return points
}

// bucketFor returns the database part of a device path: everything before
// the first backtick-quoted segment.
func bucketFor(devicePath string) string {
	if i := strings.Index(devicePath, ".`"); i >= 0 {
		return devicePath[:i]
	}
	return devicePath
}
