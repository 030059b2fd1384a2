package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aqasim81/dbrunner/internal/parser"
	"github.com/aqasim81/dbrunner/internal/runner"
	"github.com/aqasim81/dbrunner/internal/script"
	"github.com/aqasim81/dbrunner/internal/tracker"
)

// StoreConfig configures a PostgreSQL Store.
type StoreConfig struct {
	DatabaseURL string
	// CreateDatabase creates the target database from the maintenance
	// database when it does not exist.
	CreateDatabase   bool
	StatementTimeout time.Duration
	LockTimeout      time.Duration
	Logger           *zap.Logger
}

// Store implements runner.Store on PostgreSQL. The advisory lock is a
// session lock held on a dedicated pooled connection.
type Store struct {
	cfg     StoreConfig
	log     *zap.Logger
	pool    *pgxpool.Pool
	tracker *tracker.Tracker
	ownPool bool
}

var (
	_ runner.Store        = (*Store)(nil)
	_ runner.DirectExecer = (*Store)(nil)
)

// NewStore returns a Store. No connection is made until Ensure.
func NewStore(cfg StoreConfig) *Store {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Store{cfg: cfg, log: log}
}

// NewStoreFromPool returns a Store using an existing pool. Ensure only
// pings it and Close leaves it open.
func NewStoreFromPool(pool *pgxpool.Pool, cfg StoreConfig) *Store {
	s := NewStore(cfg)
	s.pool = pool
	s.tracker = tracker.New(pool)

	return s
}

// Ensure creates the database if configured to, then connects. It is safe
// to call more than once.
func (s *Store) Ensure(ctx context.Context) error {
	if s.pool == nil && s.cfg.CreateDatabase {
		created, err := EnsureDatabase(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return err
		}

		if created {
			s.log.Info("Created database")
		}
	}

	return s.Connect(ctx)
}

// Connect opens the pool, or pings it when already open. Unlike Ensure it
// never creates the database.
func (s *Store) Connect(ctx context.Context) error {
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}

		return nil
	}

	pool, err := NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return err
	}

	s.pool = pool
	s.tracker = tracker.New(pool)
	s.ownPool = true

	return nil
}

// Pool returns the connection pool, or nil before Ensure.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool if the Store opened it.
func (s *Store) Close() {
	if s.pool != nil && s.ownPool {
		s.pool.Close()
	}
}

func (s *Store) ready() error {
	if s.pool == nil {
		return ErrStoreNotReady
	}

	return nil
}

// TryLock implements runner.Locker with pg_try_advisory_lock.
func (s *Store) TryLock(ctx context.Context, key int64) (runner.Lock, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}

	h, ok, err := TryAcquireLock(ctx, s.pool, key)
	if err != nil || !ok {
		return nil, false, err
	}

	return h, true, nil
}

// EnsureLedger creates the ledger table.
func (s *Store) EnsureLedger(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	return s.tracker.EnsureTable(ctx)
}

// LedgerExists reports whether the ledger table exists.
func (s *Store) LedgerExists(ctx context.Context) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	return s.tracker.TableExists(ctx)
}

// Applied returns the applied scripts of scope.
func (s *Store) Applied(ctx context.Context, scope script.Scope) ([]tracker.AppliedRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	return s.tracker.Applied(ctx, scope)
}

// All returns every ledger row.
func (s *Store) All(ctx context.Context) ([]tracker.AppliedRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	return s.tracker.All(ctx)
}

// RecordFailed writes a failure row outside any script transaction.
func (s *Store) RecordFailed(ctx context.Context, p tracker.RecordParams) error {
	if err := s.ready(); err != nil {
		return err
	}

	return s.tracker.RecordFailed(ctx, p)
}

// Begin starts a script transaction with the configured session timeouts.
func (s *Store) Begin(ctx context.Context) (runner.Tx, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	if err := SetLocalTimeouts(ctx, tx, s.cfg.StatementTimeout, s.cfg.LockTimeout); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // the setup error is what matters

		return nil, err
	}

	return &scriptTx{tx: tx, tracker: s.tracker.WithTx(tx)}, nil
}

// NeedsDirect reports whether body has a statement that cannot run in a
// transaction block. Unparseable bodies are left to the transaction to
// reject with the server's own error.
func (s *Store) NeedsDirect(body string) bool {
	kind, err := parser.NonTransactional(body)
	if err != nil {
		return false
	}

	if kind != "" {
		s.log.Debug("Script runs outside a transaction", zap.String("statement", kind))
	}

	return kind != ""
}

// ExecDirect runs body on the pool without a transaction. The body must be
// a single statement; a mixed body is rejected with parser.ErrNotAlone
// before anything is sent.
func (s *Store) ExecDirect(ctx context.Context, body string) error {
	if err := s.ready(); err != nil {
		return err
	}

	if err := parser.RequireAlone(body); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, body)

	return err
}

type scriptTx struct {
	tx      pgx.Tx
	tracker *tracker.Tracker
}

// Exec runs the script body. With no arguments pgx uses the simple query
// protocol, which accepts several statements in one call.
func (t *scriptTx) Exec(ctx context.Context, body string) error {
	_, err := t.tx.Exec(ctx, body)

	return err
}

func (t *scriptTx) Record(ctx context.Context, p tracker.RecordParams) error {
	return t.tracker.RecordApplied(ctx, p)
}

func (t *scriptTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *scriptTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
