// Package writer drains the work queue into storage.
//
// A Pool runs a fixed number of workers. Each worker owns its own
// schema.Registry, so the validated-device cache is never shared.
//
// # Worker Loop
//
//  1. Collect a batch: wait up to FirstWait for a first item, then poll
//     with PollWait until the batch is full, the queue runs dry, or a
//     termination marker arrives.
//  2. A batch holding a marker puts one marker back on the queue for a peer
//     and the worker exits. Records collected with the marker are dropped.
//  3. Unknown devices are bound to the schema template. A connection fault
//     escalates; any other failure records every record as a failed write
//     and the worker moves on.
//  4. Records are grouped per device and written as one tablet each, behind
//     an availability check and the retry executor. A failed tablet is
//     recorded as a failed write; a connection fault escalates and aborts
//     the rest of the batch.
//
// # Escalation
//
// Escalation probes the connection manager and asks the Escalator to shut
// the pipeline down. Both run on their own goroutine so the escalating
// worker can exit straight away; the shutdown it requests needs queue space
// that exiting workers free up.
package writer
