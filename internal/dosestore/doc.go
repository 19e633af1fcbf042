// Package dosestore is the dose-data core of a closed-loop insulin
// controller.
//
// A DoseStore ingests reservoir readings and pump events, keeps them in a
// record store, reconciles them into a dose timeline and serves derived
// quantities: normalized doses, insulin on board, glucose effects and total
// delivered units.
//
// # Single writer
//
// Every operation runs as a job on one goroutine, the one that calls Run.
// Public methods enqueue a job and wait for its result, so callers on any
// goroutine observe a total order over mutations and reads. A caller whose
// context is cancelled stops waiting; the job itself still runs to
// completion.
//
// # Readiness
//
// A store starts in NeedsConfiguration (no record store yet) or
// Initializing (an Opener was supplied). It becomes Ready once the record
// store is open and the last reservoir value, the pump-event query boundary
// and reservoir continuity have been primed. Calls made before then are
// queued behind initialization. A store that fails to open moves to Failed
// and is never retried.
//
// # Source selection
//
// Normalized doses come from reservoir readings while those are continuous,
// free of primes, and pump events have not been ingested within the
// recency threshold. Otherwise they come from the pump-event log, including
// the current snapshot of mutable doses.
package dosestore
