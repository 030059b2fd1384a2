// Package sqlite is a single-file backing store for the migration runner.
// The advisory lock is a lease row in schema_locks so that separate
// processes sharing the database file exclude each other.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/aqasim81/dbrunner/internal/runner"
	"github.com/aqasim81/dbrunner/internal/script"
	"github.com/aqasim81/dbrunner/internal/tracker"
)

// DefaultLease is how long a lock row stays valid when no lease is
// configured. A holder that crashes blocks others for at most this long.
const DefaultLease = 15 * time.Minute

const createLocksSQL = `CREATE TABLE IF NOT EXISTS schema_locks (
    lock_key    INTEGER PRIMARY KEY,
    locked_by   TEXT NOT NULL,
    locked_at   INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL
)`

const createLedgerSQL = `CREATE TABLE IF NOT EXISTS schema_ledger (
    phase        TEXT NOT NULL,
    environment  TEXT NOT NULL DEFAULT '',
    script_id    TEXT NOT NULL,
    checksum     TEXT NOT NULL,
    applied_at   INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL,
    status       TEXT NOT NULL DEFAULT 'applied',
    PRIMARY KEY (phase, environment, script_id)
)`

// Store implements runner.Store on a SQLite database file.
type Store struct {
	db       *sql.DB
	holder   string
	lease    time.Duration
	now      func() time.Time
	path     string
	readOnly bool
	absent   bool
}

var _ runner.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLease sets how long an acquired lock stays valid. It should exceed
// the longest expected run.
func WithLease(d time.Duration) Option {
	return func(s *Store) { s.lease = d }
}

// WithHolder sets the identity written into lock rows. Defaults to a
// random UUID per Store.
func WithHolder(id string) Option {
	return func(s *Store) { s.holder = id }
}

// ReadOnly opens the database with mode=ro for inspection. Nothing is
// created: a database file that does not exist reads as one without a
// ledger. Lock and write methods fail on a read-only Store.
func ReadOnly() Option {
	return func(s *Store) { s.readOnly = true }
}

// Open opens the database at dsn, a file path or "file:" URI. Connections
// wait on a busy database and begin transactions as IMMEDIATE so that
// concurrent runners queue instead of failing.
func Open(dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		holder: uuid.NewString(),
		lease:  DefaultLease,
		now:    time.Now,
		path:   filePath(dsn),
	}

	for _, opt := range opts {
		opt(s)
	}

	conn := withPragmas(dsn)
	if s.readOnly {
		conn = readOnlyDSN(dsn)
	}

	db, err := sql.Open("sqlite", conn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s.db = db

	return s, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// readOnlyDSN rewrites dsn as a "file:" URI so that SQLite honours mode=ro.
func readOnlyDSN(dsn string) string {
	path, query, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")

	q := "mode=ro&_pragma=busy_timeout(5000)"
	if query != "" {
		q = query + "&" + q
	}

	return "file:" + path + "?" + q
}

// filePath returns the file behind dsn, or "" for in-memory databases.
func filePath(dsn string) string {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return ""
	}

	return path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Connect verifies the database is reachable without creating any table.
// On a read-only Store a missing file is not an error.
func (s *Store) Connect(ctx context.Context) error {
	if s.readOnly && s.path != "" {
		if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
			s.absent = true
			return nil
		}
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}

	return nil
}

// Ensure verifies the database is reachable and creates the lock table.
// SQLite creates the file itself on first connect.
func (s *Store) Ensure(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, createLocksSQL); err != nil {
		return fmt.Errorf("creating schema_locks table: %w", err)
	}

	return nil
}

// TryLock claims the lock row for key if it is free or its lease expired.
// A busy database is reported as not acquired.
func (s *Store) TryLock(ctx context.Context, key int64) (runner.Lock, bool, error) {
	now := s.now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schema_locks (lock_key, locked_by, locked_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (lock_key) DO UPDATE SET
		     locked_by = excluded.locked_by,
		     locked_at = excluded.locked_at,
		     expires_at = excluded.expires_at
		 WHERE schema_locks.expires_at < excluded.locked_at`,
		key, s.holder, now.UnixMilli(), now.Add(s.lease).UnixMilli(),
	)
	if err != nil {
		if isBusy(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("claiming lock %d: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claiming lock %d: %w", key, err)
	}

	if n == 0 {
		return nil, false, nil
	}

	return &leaseLock{store: s, key: key}, true, nil
}

type leaseLock struct {
	store *Store
	key   int64
}

// Release deletes the lock row if this store still holds it.
func (l *leaseLock) Release(ctx context.Context) error {
	_, err := l.store.db.ExecContext(ctx,
		`DELETE FROM schema_locks WHERE lock_key = ? AND locked_by = ?`,
		l.key, l.store.holder,
	)
	if err != nil {
		return fmt.Errorf("deleting lock %d: %w", l.key, err)
	}

	return nil
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}

	code := se.Code() & 0xff

	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// EnsureLedger creates the schema_ledger table if it does not exist.
func (s *Store) EnsureLedger(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createLedgerSQL); err != nil {
		return fmt.Errorf("%w: %w", tracker.ErrTableCreation, err)
	}

	return nil
}

// LedgerExists reports whether schema_ledger has been created.
func (s *Store) LedgerExists(ctx context.Context) (bool, error) {
	if s.absent {
		return false, nil
	}

	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, tracker.LedgerTable,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking for %s table: %w", tracker.LedgerTable, err)
	}

	return n > 0, nil
}

// Applied returns the successfully applied scripts of scope ordered by identifier.
func (s *Store) Applied(ctx context.Context, scope script.Scope) ([]tracker.AppliedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, environment, script_id, checksum, applied_at, duration_ms, status
		 FROM schema_ledger
		 WHERE phase = ? AND environment = ? AND status = 'applied'
		 ORDER BY script_id`,
		string(scope.Phase), scope.Environment,
	)
	if err != nil {
		return nil, fmt.Errorf("querying applied %s scripts: %w", scope, err)
	}

	return collect(rows)
}

// All returns every ledger row ordered by scope and identifier.
func (s *Store) All(ctx context.Context) ([]tracker.AppliedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, environment, script_id, checksum, applied_at, duration_ms, status
		 FROM schema_ledger
		 ORDER BY phase, environment, script_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}

	return collect(rows)
}

func collect(rows *sql.Rows) ([]tracker.AppliedRecord, error) {
	defer rows.Close()

	var records []tracker.AppliedRecord

	for rows.Next() {
		var (
			r         tracker.AppliedRecord
			phase     string
			appliedAt int64
		)

		if err := rows.Scan(&phase, &r.Environment, &r.ScriptID, &r.Checksum, &appliedAt, &r.DurationMs, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}

		r.Phase = script.Phase(phase)
		r.AppliedAt = time.UnixMilli(appliedAt).UTC()
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning ledger rows: %w", err)
	}

	return records, nil
}

// RecordFailed stores a 'failed' row without replacing an 'applied' one.
func (s *Store) RecordFailed(ctx context.Context, p tracker.RecordParams) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schema_ledger (phase, environment, script_id, checksum, applied_at, duration_ms, status)
		 VALUES (?, ?, ?, ?, ?, ?, 'failed')
		 ON CONFLICT (phase, environment, script_id) DO UPDATE SET
		     checksum = excluded.checksum,
		     applied_at = excluded.applied_at,
		     duration_ms = excluded.duration_ms
		 WHERE schema_ledger.status <> 'applied'`,
		string(p.Scope.Phase), p.Scope.Environment, p.ScriptID, p.Checksum, s.now().UnixMilli(), p.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("recording %s script %s as failed: %w", p.Scope, p.ScriptID, err)
	}

	return nil
}

// Begin starts a script transaction.
func (s *Store) Begin(ctx context.Context) (runner.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning sqlite transaction: %w", err)
	}

	return &scriptTx{tx: tx, now: s.now}, nil
}

type scriptTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *scriptTx) Exec(ctx context.Context, body string) error {
	_, err := t.tx.ExecContext(ctx, body)

	return err
}

func (t *scriptTx) Record(ctx context.Context, p tracker.RecordParams) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO schema_ledger (phase, environment, script_id, checksum, applied_at, duration_ms, status)
		 VALUES (?, ?, ?, ?, ?, ?, 'applied')
		 ON CONFLICT (phase, environment, script_id) DO UPDATE SET
		     checksum = excluded.checksum,
		     applied_at = excluded.applied_at,
		     duration_ms = excluded.duration_ms,
		     status = 'applied'`,
		string(p.Scope.Phase), p.Scope.Environment, p.ScriptID, p.Checksum, t.now().UnixMilli(), p.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("recording %s script %s as applied: %w", p.Scope, p.ScriptID, err)
	}

	return nil
}

func (t *scriptTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *scriptTx) Rollback(context.Context) error {
	return t.tx.Rollback()
}
