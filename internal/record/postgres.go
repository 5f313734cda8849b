package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/openeld/journal/internal/journal"
	"github.com/openeld/journal/internal/tracing"
)

// PostgresRepository implements Repository using PostgreSQL. The hashable
// fields and audit metadata are stored as JSONB documents alongside the
// indexed columns the queries filter on; a stored version's document is
// written once at insert time and only the status and metadata columns are
// touched afterwards.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a PostgresRepository. logger may be nil.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// Insert stores a new record version.
func (r *PostgresRepository) Insert(ctx context.Context, rec *Record) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_records", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx, tracing.ScopeAttributes(rec.Scope.DeviceID, rec.Scope.LogDate)...)

	fields, meta, err := marshalDocs(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO event_records
			(id, device_id, log_date, sequence_id, original_version_id, version_number,
			 status, fields, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.Scope.DeviceID, rec.Scope.LogDate,
		int(rec.Fields.SequenceID), rec.Meta.OriginalVersionID, int(rec.Meta.VersionNumber),
		rec.Status.String(), fields, meta, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return nil
}

// GetByID returns the record version with the given ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (rec *Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_records", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, device_id, log_date, status, fields, meta, created_at, updated_at
		FROM event_records
		WHERE id = $1
	`
	rec, err = scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// Update replaces the stored status and metadata for the record version.
func (r *PostgresRepository) Update(ctx context.Context, rec *Record) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_records", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	_, meta, err := marshalDocs(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE event_records
		SET status = $2, meta = $3, updated_at = $4
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, rec.ID, rec.Status.String(), meta, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}

	return nil
}

// Supersede stores a new active version and retires the old one inside a
// single transaction.
func (r *PostgresRepository) Supersede(ctx context.Context, newRec, retired *Record) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_records", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx, tracing.ScopeAttributes(newRec.Scope.DeviceID, newRec.Scope.LogDate)...)

	newFields, newMeta, err := marshalDocs(newRec)
	if err != nil {
		return err
	}
	_, retiredMeta, err := marshalDocs(retired)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin supersede transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO event_records
			(id, device_id, log_date, sequence_id, original_version_id, version_number,
			 status, fields, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.ExecContext(ctx, insert,
		newRec.ID, newRec.Scope.DeviceID, newRec.Scope.LogDate,
		int(newRec.Fields.SequenceID), newRec.Meta.OriginalVersionID, int(newRec.Meta.VersionNumber),
		newRec.Status.String(), newFields, newMeta, newRec.CreatedAt, newRec.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("%w: %s", ErrDuplicateID, newRec.ID)
		}
		return fmt.Errorf("failed to insert superseding record: %w", err)
	}

	update := `
		UPDATE event_records
		SET status = $2, meta = $3, updated_at = $4
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, update,
		retired.ID, retired.Status.String(), retiredMeta, retired.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to retire superseded record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, retired.ID)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit supersede transaction: %w", err)
	}
	return nil
}

// ListActiveByScope returns the scope's active records ordered by sequence
// identifier ascending.
func (r *PostgresRepository) ListActiveByScope(ctx context.Context, scope journal.Scope) ([]*Record, error) {
	query := `
		SELECT id, device_id, log_date, status, fields, meta, created_at, updated_at
		FROM event_records
		WHERE device_id = $1 AND log_date = $2 AND status = $3
		ORDER BY sequence_id ASC
	`
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_records", tracing.DBOperationQuery)
	tracing.SetAttributes(ctx, tracing.ScopeAttributes(scope.DeviceID, scope.LogDate)...)
	out, err := r.list(ctx, query, scope.DeviceID, scope.LogDate, journal.StatusActive.String())
	endSpan(err)
	return out, err
}

// ListVersions returns every version of one logical event ordered by version
// number ascending.
func (r *PostgresRepository) ListVersions(ctx context.Context, originalVersionID string) ([]*Record, error) {
	query := `
		SELECT id, device_id, log_date, status, fields, meta, created_at, updated_at
		FROM event_records
		WHERE original_version_id = $1
		ORDER BY version_number ASC
	`
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_records", tracing.DBOperationQuery)
	out, err := r.list(ctx, query, originalVersionID)
	endSpan(err)
	return out, err
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var status string
	var fields, meta []byte

	err := s.Scan(&rec.ID, &rec.Scope.DeviceID, &rec.Scope.LogDate,
		&status, &fields, &meta, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Status, err = parseStatus(status)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields document: %w", err)
	}
	if err := json.Unmarshal(meta, &rec.Meta); err != nil {
		return nil, fmt.Errorf("failed to decode meta document: %w", err)
	}

	return &rec, nil
}

func marshalDocs(rec *Record) (fields, meta []byte, err error) {
	fields, err = json.Marshal(rec.Fields)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode fields document: %w", err)
	}
	meta, err = json.Marshal(rec.Meta)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode meta document: %w", err)
	}
	return fields, meta, nil
}

func parseStatus(s string) (journal.RecordStatus, error) {
	switch s {
	case "ACTIVE":
		return journal.StatusActive, nil
	case "INACTIVE_CHANGED":
		return journal.StatusInactiveChanged, nil
	case "INACTIVE_CHANGE_REQUESTED":
		return journal.StatusInactiveChangeRequested, nil
	case "INACTIVE_ASSUMED_FROM_UNIDENTIFIED":
		return journal.StatusInactiveAssumedFromUnidentified, nil
	default:
		return 0, fmt.Errorf("unknown record status %q", s)
	}
}
