package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/openeld/journal/internal/journal"
)

// MemoryStore is an in-process sequence state store for tests and
// single-instance deployments. The mutex makes Load-compare-Save atomic, so
// the compare-and-swap contract holds even under concurrent allocators.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]journal.SequenceState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]journal.SequenceState),
	}
}

// Load returns the state for scope, or ok == false if none was ever saved.
func (s *MemoryStore) Load(ctx context.Context, scope journal.Scope) (journal.SequenceState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[scope.String()]
	return state, ok, nil
}

// Save persists next if the stored state still equals prev. A nil prev
// asserts the scope has no stored state yet.
func (s *MemoryStore) Save(ctx context.Context, prev *journal.SequenceState, next journal.SequenceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := next.Scope.String()
	current, exists := s.states[key]

	if prev == nil {
		if exists {
			return fmt.Errorf("%w: scope %s", ErrStateConflict, next.Scope)
		}
	} else {
		if !exists || current.LastIssuedID != prev.LastIssuedID || current.WrapAroundCount != prev.WrapAroundCount {
			return fmt.Errorf("%w: scope %s", ErrStateConflict, next.Scope)
		}
	}

	s.states[key] = next
	return nil
}
