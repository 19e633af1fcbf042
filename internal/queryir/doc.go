// Package queryir defines the abstract query language of the record store.
//
// Queries describe what to read, delete or update without committing to a
// storage backend. The SQLite store compiles them with querysql; an
// in-memory or networked store could interpret them directly.
//
// Supported shapes:
//   - Select: predicate filter, sort key, direction and limit
//   - Delete: batch delete by predicate
//   - Update: set literal fields on rows matching a predicate
//
// Predicates are conjunctions of comparisons against literal values.
// There is no OR and no subquery: every query the dose store issues is a
// time-window or identity filter.
package queryir
