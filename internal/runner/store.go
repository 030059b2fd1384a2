package runner

import (
	"context"

	"github.com/aqasim81/dbrunner/internal/script"
	"github.com/aqasim81/dbrunner/internal/tracker"
)

// Lock is a held advisory lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires the advisory lock for key without waiting. When another
// holder owns the lock it returns acquired == false and a nil error.
type Locker interface {
	TryLock(ctx context.Context, key int64) (lock Lock, acquired bool, err error)
}

// Ledger reads applied-script records and writes failure records outside
// of any script transaction.
type Ledger interface {
	EnsureLedger(ctx context.Context) error
	LedgerExists(ctx context.Context) (bool, error)
	Applied(ctx context.Context, scope script.Scope) ([]tracker.AppliedRecord, error)
	RecordFailed(ctx context.Context, p tracker.RecordParams) error
}

// Tx is a transaction scope. Record writes the ledger row inside the same
// transaction as the script's own statements.
type Tx interface {
	Exec(ctx context.Context, body string) error
	Record(ctx context.Context, p tracker.RecordParams) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the single authoritative backing store of a run.
type Store interface {
	Locker
	Ledger

	// Ensure creates the store if needed and verifies connectivity. It must
	// be idempotent and must not touch the ledger.
	Ensure(ctx context.Context) error
	Begin(ctx context.Context) (Tx, error)
}

// DirectExecer is implemented by stores that have statements which cannot
// run inside a transaction block. A script routed to ExecDirect runs with
// no transaction around it, and it must hold that one statement only:
// PostgreSQL wraps a multi-statement body in an implicit transaction, so
// ExecDirect rejects such bodies instead of running them.
type DirectExecer interface {
	NeedsDirect(body string) bool
	ExecDirect(ctx context.Context, body string) error
}

// Preflight inspects pending migrations before any of them runs. A non-nil
// error aborts the run.
type Preflight interface {
	Check(ctx context.Context, scripts []script.Script) error
}
