package record

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openeld/journal/internal/journal"
)

// InMemoryRepository provides an in-memory Repository for tests and
// single-instance deployments.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
	}
}

// Insert stores a new record version.
func (r *InMemoryRepository) Insert(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	stored := *rec
	r.records[rec.ID] = &stored
	return nil
}

// GetByID returns the record version with the given ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	copied := *rec
	return &copied, nil
}

// Update replaces the stored record with the given ID.
func (r *InMemoryRepository) Update(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}

	stored := *rec
	r.records[rec.ID] = &stored
	return nil
}

// Supersede stores a new active version and retires the old one under a
// single lock acquisition, so no reader ever observes the half-applied edit.
func (r *InMemoryRepository) Supersede(ctx context.Context, newRec, retired *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[newRec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, newRec.ID)
	}
	if _, exists := r.records[retired.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, retired.ID)
	}

	inserted := *newRec
	updated := *retired
	r.records[newRec.ID] = &inserted
	r.records[retired.ID] = &updated
	return nil
}

// ListActiveByScope returns the scope's active records ordered by sequence
// identifier ascending.
func (r *InMemoryRepository) ListActiveByScope(ctx context.Context, scope journal.Scope) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Record
	for _, rec := range r.records {
		if rec.Scope == scope && rec.Status == journal.StatusActive {
			copied := *rec
			out = append(out, &copied)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Fields.SequenceID < out[j].Fields.SequenceID
	})
	return out, nil
}

// ListVersions returns every version of one logical event ordered by version
// number ascending.
func (r *InMemoryRepository) ListVersions(ctx context.Context, originalVersionID string) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Record
	for _, rec := range r.records {
		if rec.Meta.OriginalVersionID == originalVersionID {
			copied := *rec
			out = append(out, &copied)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Meta.VersionNumber < out[j].Meta.VersionNumber
	})
	return out, nil
}
