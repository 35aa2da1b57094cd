// Package store defines the typed records cratemind persists and the
// Repository abstraction the components depend on.
//
// Two variants implement Repository: memstore keeps everything in process
// memory for tests and ephemeral runs, and sqlstore persists to SQLite.
// Both honour the same invariants: one canonical item per content hash,
// append-only signals and result history, compare-and-swap result versions,
// and atomic profile publication.
package store
