// Package pipeline wires the fetch scheduler, work queue, writer pool and
// storage connection manager into one unit with a single shutdown path.
//
// # Shutdown Protocol
//
// Coordinator.InitiateShutdown runs once, whoever calls it first (the
// process on a signal, or a writer that hit a connection fault):
//
//  1. Stop the fetch scheduler so nothing new enters the queue.
//  2. Put one termination marker per worker on the queue.
//
// A worker that pulls a marker puts one back before exiting, so the number
// of queued markers never drops while workers remain and every worker sees
// one. When the last worker is gone all markers are still queued; the
// process is exiting and they are discarded with the queue.
//
// # Lifecycle
//
//	p, _ := pipeline.New(cfg, manager, exec, opts...)
//	p.Start(ctx)     // schema init, writers, then fetcher
//	<-p.Done()       // or a signal
//	p.Shutdown(ctx)  // markers, bounded drain, close storage
package pipeline
