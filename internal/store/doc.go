// Package store provides SQLite-backed durable storage for dose records.
//
// The store holds two tables:
//   - reservoir_values: reservoir volume readings, keyed by an integer id
//   - pump_events: finalized pump events, keyed by a content-addressed id
//
// # Record store contract
//
// Reads take a queryir.Select (predicate, sort key, direction, limit).
// Writes happen inside a Tx: insert, predicate batch delete, and
// mark-uploaded, made durable by a single atomic Commit. A failed or
// rolled-back Tx leaves queryable state exactly as it was.
//
// # Critical patterns
//
// Pump-event idempotency
//   - id = dose.PumpEventID(date, raw), plus UNIQUE(date, raw)
//   - Inserts use ON CONFLICT DO NOTHING, so re-ingesting an event never
//     duplicates it and never resets its uploaded flag
//
// Deterministic query results
//   - Every SELECT is compiled with an id tiebreaker after the sort key
//
// Time representation
//   - Dates are stored as INTEGER unix milliseconds
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - one open connection: SQLite has a single writer
package store
