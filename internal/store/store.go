// Package store provides persistence backends for per-scope sequence state.
// All implementations satisfy the allocator's compare-and-swap contract: a
// Save only lands when the stored state still matches what the caller read.
package store

import "errors"

// ErrStateConflict is returned by Save when the stored state no longer
// matches the caller's prev snapshot. The caller lost a race with another
// allocator for the same scope and must reload before retrying.
var ErrStateConflict = errors.New("sequence state modified concurrently")
