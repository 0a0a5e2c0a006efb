// Package controller implements the record controller, the orchestrator
// between a host application's container and the engine's record store.
//
// # Ingestion
//
// The controller registers as a persist.Observer. Before each commit it
// snapshots which fields changed; after the commit it enqueues the
// inserted, updated and deleted objects for the processing loop:
//
//   - inserted entities get a local record with status normal
//   - updated entities become updated, but only when a trackable field
//     changed
//   - deleted entities mark an existing local record deleted; no record is
//     created for them
//
// Commits tagged with Author are the controller's own and are not ingested.
//
// # Processing loop
//
// Run is the single goroutine that applies status transitions. The queue
// has two lanes: ingestion work outranks managed-record maintenance, which
// is triggered by the record store's own commits and purges records
// deleted on both sides. Every enqueued job enters a counting barrier, so
// ProcessPendingUpdates can wait until all in-flight work has settled.
//
// # Queries and operations
//
// Queries classify records with the refined sync action. Local hashes are
// refreshed first so a stale hash is never mistaken for remote divergence.
// Decode, RestoreVersion and KeepLocal write through their own store
// transactions; RestoreVersion and KeepLocal report through cancellable
// progress handles and leave the record untouched when cancelled before
// their commit.
package controller
