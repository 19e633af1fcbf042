// Package insulin holds the pure dose arithmetic used by the dose store:
// reservoir continuity checking, derivation of doses from reservoir
// readings, reconciliation and normalization of dose timelines, total
// delivery, and insulin-on-board and glucose-effect projection with an
// exponential insulin model.
//
// Nothing in this package performs I/O or keeps state between calls.
// Inputs are never mutated; every function returns fresh slices.
package insulin
