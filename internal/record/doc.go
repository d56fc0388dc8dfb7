// Package record defines the data that flows through the ingestion pipeline.
//
// A Record is one timestamped sample for one plant tag, carrying the five
// fixed text measurements returned by the upstream source. Records travel
// through the work queue wrapped in an Item, which is either Data(record) or
// the Terminate marker used to stop writer workers.
//
// Writers group a Batch by device path into DeviceGroups and turn each group
// into a Tablet: one timestamp column plus one value column per measurement.
//
// FailedWrite and FailedRequest are the audit entries produced when a write
// or an upstream fetch cannot be completed. Their String forms are the
// pipe-delimited lines persisted by the failure logger.
//
// # Thread Safety
//
// Records, Items and audit entries are immutable after construction and can
// be shared between goroutines. Tablets are built and consumed by a single
// worker.
package record
