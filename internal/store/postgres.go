package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/openeld/journal/internal/journal"
	"github.com/openeld/journal/internal/tracing"
)

// PostgresStore persists sequence state in the sequence_states table. The
// compare-and-swap contract is implemented with conditional writes: inserts
// use ON CONFLICT DO NOTHING and updates carry the expected last_issued_id
// and wrap_around_count in the WHERE clause, so a lost race surfaces as zero
// rows affected rather than a silent overwrite.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore. logger may be nil.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Load returns the state for scope, or ok == false when the scope has never
// issued an identifier.
func (s *PostgresStore) Load(ctx context.Context, scope journal.Scope) (_ journal.SequenceState, _ bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sequence_states", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx, tracing.ScopeAttributes(scope.DeviceID, scope.LogDate)...)

	query := `
		SELECT last_issued_id, last_issued_at, wrap_around_count
		FROM sequence_states
		WHERE device_id = $1 AND log_date = $2
	`

	state := journal.SequenceState{Scope: scope}
	var lastIssuedID int
	err = s.db.QueryRowContext(ctx, query, scope.DeviceID, scope.LogDate).
		Scan(&lastIssuedID, &state.LastIssuedAt, &state.WrapAroundCount)
	if err == sql.ErrNoRows {
		return journal.SequenceState{}, false, nil
	}
	if err != nil {
		return journal.SequenceState{}, false, fmt.Errorf("failed to load sequence state: %w", err)
	}

	state.LastIssuedID = uint16(lastIssuedID)
	return state, true, nil
}

// Save persists next if and only if the stored state still equals prev.
func (s *PostgresStore) Save(ctx context.Context, prev *journal.SequenceState, next journal.SequenceState) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sequence_states", tracing.DBOperationExec)
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx, tracing.ScopeAttributes(next.Scope.DeviceID, next.Scope.LogDate)...)

	var result sql.Result

	if prev == nil {
		query := `
			INSERT INTO sequence_states (device_id, log_date, last_issued_id, last_issued_at, wrap_around_count)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (device_id, log_date) DO NOTHING
		`
		result, err = s.db.ExecContext(ctx, query,
			next.Scope.DeviceID, next.Scope.LogDate,
			int(next.LastIssuedID), next.LastIssuedAt, next.WrapAroundCount)
	} else {
		query := `
			UPDATE sequence_states
			SET last_issued_id = $3, last_issued_at = $4, wrap_around_count = $5
			WHERE device_id = $1 AND log_date = $2
			  AND last_issued_id = $6 AND wrap_around_count = $7
		`
		result, err = s.db.ExecContext(ctx, query,
			next.Scope.DeviceID, next.Scope.LogDate,
			int(next.LastIssuedID), next.LastIssuedAt, next.WrapAroundCount,
			int(prev.LastIssuedID), prev.WrapAroundCount)
	}
	if err != nil {
		return fmt.Errorf("failed to save sequence state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		s.logger.Warn("sequence state save lost compare-and-swap race",
			slog.String("scope", next.Scope.String()),
			slog.Uint64("attempted_id", uint64(next.LastIssuedID)))
		return fmt.Errorf("%w: scope %s", ErrStateConflict, next.Scope)
	}

	return nil
}
