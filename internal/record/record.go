// Package record defines the persisted duty-status event record and its
// repository contract. A record couples the hashable event fields with the
// audit metadata and tamper evidence produced by the chain factory; edits
// never mutate a stored record, they insert a new version and retire the old
// one through a status transition.
package record

import (
	"context"
	"errors"
	"time"

	"github.com/openeld/journal/internal/journal"
)

// Repository errors.
var (
	// ErrNotFound is returned when no record exists with the given ID.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned when inserting a record whose ID is taken.
	ErrDuplicateID = errors.New("record ID already exists")
)

// Record is one stored version of a duty-status event. ID is the version's
// own identity; Meta.OriginalVersionID ties all versions of one logical
// event together.
type Record struct {
	ID     string
	Scope  journal.Scope
	Fields journal.HashableFields
	Status journal.RecordStatus
	Meta   journal.AuditMetadata

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository provides storage for event records.
type Repository interface {
	// Insert stores a new record version.
	Insert(ctx context.Context, rec *Record) error

	// GetByID returns the record version with the given ID.
	GetByID(ctx context.Context, id string) (*Record, error)

	// Update replaces the stored record with the given ID. Used for status
	// transitions and driver review outcomes; the hashable fields of a
	// stored version never change.
	Update(ctx context.Context, rec *Record) error

	// Supersede stores a new active version and retires the version it
	// replaces in one atomic step. Either both writes land or neither
	// does: a failure must never leave two active versions holding the
	// same sequence slot.
	Supersede(ctx context.Context, newRec, retired *Record) error

	// ListActiveByScope returns the scope's active records ordered by
	// sequence identifier ascending. This is the verifier's and the
	// exporter's view of a day's chain.
	ListActiveByScope(ctx context.Context, scope journal.Scope) ([]*Record, error)

	// ListVersions returns every version of one logical event, identified
	// by its original version ID, ordered by version number ascending.
	ListVersions(ctx context.Context, originalVersionID string) ([]*Record, error)
}
