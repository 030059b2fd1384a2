package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LockHandle wraps a dedicated pooled connection that holds a
// session-level advisory lock. Call Release to unlock and return
// the connection to the pool.
type LockHandle struct {
	conn *pgxpool.Conn
	key  int64
}

// TryAcquireLock attempts to take the session-level advisory lock for key
// without waiting. When another session holds it, it returns a nil handle,
// false and no error. The caller must call handle.Release() when done.
func TryAcquireLock(ctx context.Context, pool *pgxpool.Pool, key int64) (*LockHandle, bool, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}

	var acquired bool

	err = conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	if err != nil {
		conn.Release()

		return nil, false, fmt.Errorf("executing pg_try_advisory_lock: %w", err)
	}

	if !acquired {
		conn.Release()

		return nil, false, nil
	}

	return &LockHandle{conn: conn, key: key}, true, nil
}

// Release unlocks the advisory lock and returns the connection to the pool.
// Safe to call multiple times; subsequent calls are no-ops. If the unlock
// fails the connection is closed, which ends the session and its lock.
func (h *LockHandle) Release(ctx context.Context) error {
	if h == nil || h.conn == nil {
		return nil
	}

	conn := h.conn
	h.conn = nil

	var unlocked bool

	err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", h.key).Scan(&unlocked)
	if err != nil {
		_ = conn.Conn().Close(ctx) //nolint:errcheck // closing drops the session lock
		conn.Release()

		return fmt.Errorf("releasing advisory lock %d: %w", h.key, err)
	}

	conn.Release()

	if !unlocked {
		return fmt.Errorf("releasing advisory lock %d: lock was not held by this session", h.key)
	}

	return nil
}
