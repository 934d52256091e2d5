// Package api contains the core types shared by the flowtick scheduler,
// its stores, and its callers.
//
// Most users interact with the higher-level flowtick package, which re-exports
// selected types and helpers from this package.
//
// # Runs and Steps
//
// A Run is one execution of an ordered list of Steps. Each step names an
// agent type, which the scheduler resolves to an Executor at attempt time.
// Runs move through the statuses
//
//	queued -> running -> {queued (retry), succeeded, failed}
//
// and canceled, which only an external actor assigns.
//
// # Leases
//
// A run is advanced only by the holder of its Lease. Leases expire on their
// own, so a crashed worker never strands a run.
//
// # Observability
//
// The Sink interface receives audit events and failure records. Ready-made
// implementations include LoggingSink, MemorySink, BasicMetrics and
// CompositeSink.
package api
