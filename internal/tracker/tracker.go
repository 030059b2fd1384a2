package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aqasim81/dbrunner/internal/script"
)

// Ledger row statuses.
const (
	StatusApplied = "applied"
	StatusFailed  = "failed"
)

// AppliedRecord represents a row of the schema_ledger table.
type AppliedRecord struct {
	Phase       script.Phase
	Environment string
	ScriptID    string
	Checksum    string
	AppliedAt   time.Time
	DurationMs  int
	Status      string
}

// RecordParams contains the fields needed to record a script outcome.
type RecordParams struct {
	Scope      script.Scope
	ScriptID   string
	Checksum   string
	DurationMs int
}

// ParamsFor builds RecordParams for a script.
func ParamsFor(s *script.Script, d time.Duration) RecordParams {
	return RecordParams{
		Scope:      s.Scope(),
		ScriptID:   s.ID,
		Checksum:   s.Checksum,
		DurationMs: int(d.Milliseconds()),
	}
}

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, so ledger
// writes can join the transaction that applies the script.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tracker manages the schema_ledger table.
type Tracker struct {
	db Querier
}

// New creates a Tracker backed by the given pool or connection.
func New(db Querier) *Tracker {
	return &Tracker{db: db}
}

// WithTx returns a Tracker whose statements run inside tx.
func (t *Tracker) WithTx(tx pgx.Tx) *Tracker {
	return &Tracker{db: tx}
}

// EnsureTable creates the schema_ledger table if it does not exist.
func (t *Tracker) EnsureTable(ctx context.Context) error {
	_, err := t.db.Exec(ctx, createSchemaSQL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTableCreation, err)
	}

	return nil
}

// TableExists reports whether the ledger table has been created.
func (t *Tracker) TableExists(ctx context.Context) (bool, error) {
	var exists bool

	err := t.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, LedgerTable).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking for %s table: %w", LedgerTable, err)
	}

	return exists, nil
}

// Applied returns the successfully applied scripts of one scope ordered by identifier.
func (t *Tracker) Applied(ctx context.Context, scope script.Scope) ([]AppliedRecord, error) {
	rows, err := t.db.Query(ctx,
		`SELECT phase, environment, script_id, checksum, applied_at, duration_ms, status
		 FROM schema_ledger
		 WHERE phase = $1 AND environment = $2 AND status = 'applied'
		 ORDER BY script_id`,
		string(scope.Phase), scope.Environment,
	)
	if err != nil {
		return nil, fmt.Errorf("querying applied %s scripts: %w", scope, err)
	}

	return collect(rows)
}

// All returns every ledger row, including failures, ordered by scope and identifier.
func (t *Tracker) All(ctx context.Context) ([]AppliedRecord, error) {
	rows, err := t.db.Query(ctx,
		`SELECT phase, environment, script_id, checksum, applied_at, duration_ms, status
		 FROM schema_ledger
		 ORDER BY phase, environment, script_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}

	return collect(rows)
}

func collect(rows pgx.Rows) ([]AppliedRecord, error) {
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AppliedRecord, error) {
		var (
			r     AppliedRecord
			phase string
		)

		if scanErr := row.Scan(&phase, &r.Environment, &r.ScriptID, &r.Checksum, &r.AppliedAt, &r.DurationMs, &r.Status); scanErr != nil {
			return AppliedRecord{}, fmt.Errorf("scanning ledger row: %w", scanErr)
		}

		r.Phase = script.Phase(phase)

		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning ledger rows: %w", err)
	}

	return records, nil
}

// RecordApplied inserts or updates a ledger row with status 'applied'.
// The upsert replaces an earlier 'failed' row for the same script.
func (t *Tracker) RecordApplied(ctx context.Context, p RecordParams) error {
	_, err := t.db.Exec(ctx,
		`INSERT INTO schema_ledger (phase, environment, script_id, checksum, duration_ms, status)
		 VALUES ($1, $2, $3, $4, $5, 'applied')
		 ON CONFLICT (phase, environment, script_id) DO UPDATE SET
		     checksum = EXCLUDED.checksum,
		     applied_at = NOW(),
		     duration_ms = EXCLUDED.duration_ms,
		     status = 'applied'`,
		string(p.Scope.Phase), p.Scope.Environment, p.ScriptID, p.Checksum, p.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("recording %s script %s as applied: %w", p.Scope, p.ScriptID, err)
	}

	return nil
}

// RecordFailed stores a 'failed' row. An existing 'applied' row is never
// overwritten, so each identifier keeps at most one success.
func (t *Tracker) RecordFailed(ctx context.Context, p RecordParams) error {
	_, err := t.db.Exec(ctx,
		`INSERT INTO schema_ledger (phase, environment, script_id, checksum, duration_ms, status)
		 VALUES ($1, $2, $3, $4, $5, 'failed')
		 ON CONFLICT (phase, environment, script_id) DO UPDATE SET
		     checksum = EXCLUDED.checksum,
		     applied_at = NOW(),
		     duration_ms = EXCLUDED.duration_ms
		 WHERE schema_ledger.status <> 'applied'`,
		string(p.Scope.Phase), p.Scope.Environment, p.ScriptID, p.Checksum, p.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("recording %s script %s as failed: %w", p.Scope, p.ScriptID, err)
	}

	return nil
}
