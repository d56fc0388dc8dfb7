package writer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nerrad567/tag-ingest/internal/record"
	"github.com/nerrad567/tag-ingest/internal/retry"
	"github.com/nerrad567/tag-ingest/internal/schema"
	"github.com/nerrad567/tag-ingest/internal/storage"
)

type worker struct {
	id       int
	pool     *Pool
	registry *schema.Registry
	logger   workerLogger
}

func (w *worker) run(ctx context.Context) {
	defer w.pool.workerExited()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("writer panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	w.logger.Info("writer started")
	defer w.logger.Info("writer stopped")

	for ctx.Err() == nil {
		batch, terminate := w.collect(ctx)

		if terminate {
			w.logger.Info("received termination marker, stopping", "discarded", len(batch))
			if err := w.pool.queue.BlockingEnqueue(ctx, record.Terminate()); err != nil {
				w.logger.Warn("could not relay termination marker", "error", err)
			}
			return
		}
		if len(batch) == 0 {
			continue
		}

		if !w.process(ctx, batch) {
			return
		}
	}
}

// collect gathers up to BatchSize records. terminate is true when a marker
// was pulled; the records gathered before it are still returned.
func (w *worker) collect(ctx context.Context) (batch record.Batch, terminate bool) {
	cfg := w.pool.cfg

	item, ok := w.pool.queue.DequeueWithTimeout(ctx, cfg.FirstWait)
	if !ok {
		return nil, false
	}

	for {
		rec, isData := item.Record()
		if !isData {
			return batch, true
		}
		batch = append(batch, rec)
		if len(batch) >= cfg.BatchSize {
			break
		}
		if item, ok = w.pool.queue.DequeueWithTimeout(ctx, cfg.PollWait); !ok {
			break
		}
	}

	w.pool.metrics.SetQueueLength(w.pool.queue.Len())
	return batch, false
}

// process validates and writes one batch. It returns false when the worker
// must stop.
func (w *worker) process(ctx context.Context, batch record.Batch) bool {
	if err := w.registry.ValidateDevices(ctx, batch); err != nil {
		if ctx.Err() != nil && errors.Is(err, retry.ErrInterrupted) {
			return false
		}
		if storage.IsConnectionFault(err) {
			w.escalate(err)
			return false
		}

		reason := "schema validation failed: " + err.Error()
		for _, rec := range batch {
			w.recordFailure(ctx, rec.DeviceKey(), []record.Record{rec}, reason)
		}
		return true
	}

	var tablets, points int
	for _, group := range record.GroupByDevice(batch) {
		tablet := record.BuildTablet(group, func(measurement string, row int) {
			w.logger.Warn("missing value for measurement",
				"measurement", measurement,
				"row", row,
				"device", group.DevicePath,
			)
		})
		if tablet.Rows() == 0 {
			w.logger.Warn("skipping empty tablet", "device", group.DevicePath)
			continue
		}

		if err := w.insert(ctx, tablet); err != nil {
			w.recordFailure(ctx, group.DevicePath, group.Records, err.Error())
			if storage.IsConnectionFault(err) {
				w.escalate(err)
				return false
			}
			if ctx.Err() != nil {
				return false
			}
			continue
		}

		tablets++
		points += tablet.Rows()
	}

	if tablets > 0 {
		w.logger.Info("inserted tablets", "tablets", tablets, "points", points)
	}
	return true
}

func (w *worker) insert(ctx context.Context, tablet *record.Tablet) error {
	start := time.Now()
	label := fmt.Sprintf("insert tablet for %s", tablet.DevicePath)

	err := retry.Run(ctx, w.pool.exec, label, func(ctx context.Context) error {
		if !w.pool.conn.IsAvailable() {
			return storage.ErrNotAvailable
		}
		engine := w.pool.conn.Engine()
		if engine == nil {
			return storage.ErrNotAvailable
		}
		return engine.InsertTablet(ctx, tablet)
	})
	if err != nil {
		return err
	}

	w.pool.metrics.ObserveWrite(time.Since(start))
	w.pool.metrics.PointsWritten(tablet.Rows())
	return nil
}

func (w *worker) escalate(err error) {
	w.logger.Error("critical error encountered, initiating shutdown", "error", err)
	w.pool.escalate(err)
}

func (w *worker) recordFailure(ctx context.Context, devicePath string, records []record.Record, reason string) {
	fw, err := record.NewFailedWrite(devicePath, records, reason)
	if err != nil {
		w.logger.Warn("failed write not recorded", "device", devicePath, "reason", reason, "error", err)
		return
	}
	w.pool.failures.LogFailedWrite(context.WithoutCancel(ctx), fw)
	w.pool.metrics.WriteFailed(fw.PointCount)
}
