// Package store provides durable storage for per-source crawl cursors.
//
// A cursor is the next record id to fetch for a source, stored as a decimal
// string under "<source>.opid". The only contract the crawler relies on is
// CursorStore: Get reports a miss without an error, Set either persists or
// returns a *StorageError, and nothing retries implicitly.
//
// # Backends
//
//   - Store: SQLite (WAL, single connection, synchronous=FULL)
//   - Postgres: pgx connection pool, for deployments sharing a database
//   - Memory: process-local map, for tests and dry runs
//
// Each source owns exactly one key, so adapters never contend for a row.
package store
