package health

import (
	"context"
	"database/sql"
	"time"
)

// probeTimeout bounds a single dependency probe so a wedged connection
// cannot stall the readiness endpoint.
const probeTimeout = 2 * time.Second

// DBChecker reports whether the journal's Postgres backend is reachable.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{
		db: db,
	}
}

// HealthCheck runs a trivial query against the database. A query is used
// rather than a ping because ping can succeed on a pooled connection the
// server has already closed.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var one int
	return d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}
