// Package storage defines the time-series storage service the pipeline
// writes to, and the Manager that keeps a connection pool to it healthy.
//
// # Engine
//
// Engine is the narrow set of operations the pipeline needs from the
// storage backend: database and template management, per-device template
// binding, tablet inserts, and a liveness probe. The InfluxDB backend lives
// in internal/infrastructure/influxdb; tests use storagetest.Engine.
//
// # Manager
//
// Manager owns the current Engine and an availability flag. A monitor
// goroutine probes the engine every interval (5s by default) through the
// retry executor. When a probe fails because the pool itself is defunct
// (closed, or no connection could be acquired in time) the pool is torn
// down and dialled again before the failure is reported. Rebuilds are
// serialised.
//
//	mgr, err := storage.NewManager(ctx, dial, exec, storage.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	if mgr.IsAvailable() {
//	    err = mgr.Engine().InsertTablet(ctx, tablet)
//	}
//
// # Errors
//
// Backends translate their failures into this package's sentinels plus the
// retry markers (retry.ErrNonRetryable for client errors, retry.ErrServer
// for server errors). IsConnectionFault tells writers when to escalate.
package storage
