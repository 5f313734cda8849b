// Package sequence implements gap-free, monotonically increasing sequence
// identifier allocation within a (device, log date) scope, plus the pure
// validation applied to identifiers that were allocated elsewhere (for
// example on a disconnected device) and submitted later.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openeld/journal/internal/journal"
)

// Allocation errors. Both are terminal for the scope, not the request:
// no further identifier can ever be issued for that (device, day) pair.
var (
	// ErrScopeExhausted is returned when the counter has reached 65535.
	ErrScopeExhausted = errors.New("sequence scope exhausted")

	// ErrScopeAnomalous is returned when the stored state carries a
	// nonzero wrap-around count. Issuance halts until compliance review
	// intervenes; the anomaly is not recoverable in software.
	ErrScopeAnomalous = errors.New("sequence scope anomalous: wrap-around recorded")
)

// Store is the persistence contract the allocator depends on. Save must
// behave as an atomic compare-and-swap keyed by scope: it persists next only
// if the stored state still equals prev (prev == nil means "no state exists
// yet"), and returns the store's conflict error otherwise. That is the sole
// obligation that keeps concurrent allocators for one scope from both
// observing lastIssuedID = n and both saving n+1.
type Store interface {
	// Load returns the scope's state, or ok == false when the scope has
	// never issued an identifier.
	Load(ctx context.Context, scope journal.Scope) (state journal.SequenceState, ok bool, err error)

	// Save persists next if and only if the stored state still equals
	// prev. A nil prev asserts the scope has no stored state.
	Save(ctx context.Context, prev *journal.SequenceState, next journal.SequenceState) error
}

// Allocation is the result of a successful allocate call.
type Allocation struct {
	ID        uint16
	Formatted string
	State     journal.SequenceState
}

// Allocator issues scope-local sequence identifiers against a Store.
type Allocator struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewAllocator creates an Allocator. logger and metrics may be nil.
func NewAllocator(store Store, logger *slog.Logger, metrics *Metrics) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Allocate issues the next identifier for scope. The happy path is simply
// lastIssuedID + 1; the load-increment-save cycle relies on the Store's
// compare-and-swap so two concurrent allocators for one scope can never both
// issue the same identifier. Conflicts are surfaced to the caller, never
// retried here.
func (a *Allocator) Allocate(ctx context.Context, scope journal.Scope) (Allocation, error) {
	if err := scope.Validate(); err != nil {
		return Allocation{}, err
	}

	state, ok, err := a.store.Load(ctx, scope)
	if err != nil {
		return Allocation{}, fmt.Errorf("load sequence state for %s: %w", scope, err)
	}

	var prev *journal.SequenceState
	if ok {
		prev = &state
		if state.WrapAroundCount != 0 {
			a.logger.Error("scope has recorded wrap-around, refusing to issue",
				slog.String("scope", scope.String()),
				slog.Uint64("wrap_around_count", uint64(state.WrapAroundCount)))
			return Allocation{}, fmt.Errorf("%w: scope %s", ErrScopeAnomalous, scope)
		}
		if state.Exhausted() {
			a.metrics.incExhaustions()
			return Allocation{}, fmt.Errorf("%w: scope %s", ErrScopeExhausted, scope)
		}
	}

	next := journal.SequenceState{
		Scope:        scope,
		LastIssuedID: state.LastIssuedID + 1,
		LastIssuedAt: a.now().UTC(),
	}

	if err := a.store.Save(ctx, prev, next); err != nil {
		return Allocation{}, fmt.Errorf("save sequence state for %s: %w", scope, err)
	}

	a.metrics.incAllocations()
	if next.LastIssuedID >= SaturationThreshold {
		a.logger.Warn("scope approaching sequence saturation",
			slog.String("scope", scope.String()),
			slog.Uint64("last_issued_id", uint64(next.LastIssuedID)))
	}

	return Allocation{
		ID:        next.LastIssuedID,
		Formatted: Format(next.LastIssuedID),
		State:     next,
	}, nil
}

// ValidateProposed checks an identifier that was allocated on a disconnected
// device against the scope's stored counter state and active identifier set.
// It never mutates the counter: the server allocates the authoritative
// identifier separately, and the result here is admission evidence. A scope
// with no stored state validates against the zero state, so the first
// identifier a device proposes is held to the start-at-one rule.
func (a *Allocator) ValidateProposed(ctx context.Context, scope journal.Scope, proposedID int, activeIDs []uint16) (Result, error) {
	if err := scope.Validate(); err != nil {
		return Result{}, err
	}

	state, _, err := a.store.Load(ctx, scope)
	if err != nil {
		return Result{}, fmt.Errorf("load sequence state for %s: %w", scope, err)
	}
	state.Scope = scope

	return Validate(proposedID, state, activeIDs), nil
}
