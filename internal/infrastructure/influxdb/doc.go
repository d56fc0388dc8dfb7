// Package influxdb implements storage.Engine on InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library and maps the
// device-oriented storage model onto buckets and points.
//
// # Mapping
//
//   - Database: a bucket in the configured organization.
//   - Template: a "schema_template" point in the schema bucket, one field
//     per measurement describing its type, encoding and compression.
//   - Binding: a "schema_binding" point in the schema bucket tagged with
//     the device path. Bindings are idempotent upserts.
//   - Tablet: one "reading" point per row, tagged with the device path,
//     with one string field per present measurement. Rows without any
//     measurement are skipped since line protocol requires a field.
//
// Schema points are written at the Unix epoch so rewriting them replaces
// the previous value.
//
// # Usage
//
//	dial := influxdb.NewDialer(cfg.Storage)
//	mgr, err := storage.NewManager(ctx, dial, exec)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
// # Connection Pool
//
// All requests share one HTTP transport whose per-host connection limit
// is session_pool_size. Close releases idle connections; every later call
// fails with storage.ErrPoolClosed, which makes the storage manager
// rebuild the engine.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
