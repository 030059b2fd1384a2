package runner

import (
	"context"
	"fmt"
)

// txScope hands out transactions to script applications. In per-script
// mode every call gets its own transaction, committed on success. In
// per-run mode all calls share one transaction that is committed by
// commit() once migrations and seeds have all succeeded.
type txScope struct {
	store  Store
	perRun bool
	shared Tx
}

// apply runs fn in a transaction and rolls it back if fn fails. In per-run
// mode a failure rolls back the whole run.
func (s *txScope) apply(ctx context.Context, fn func(tx Tx) error) error {
	if s.perRun {
		return s.applyShared(ctx, fn)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		rollback(ctx, tx)

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		rollback(ctx, tx)

		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *txScope) applyShared(ctx context.Context, fn func(tx Tx) error) error {
	if s.shared == nil {
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning run transaction: %w", err)
		}

		s.shared = tx
	}

	if err := fn(s.shared); err != nil {
		s.abort(ctx)

		return err
	}

	return nil
}

// commit finishes the run-wide transaction, if one was started.
func (s *txScope) commit(ctx context.Context) error {
	if s.shared == nil {
		return nil
	}

	tx := s.shared
	s.shared = nil

	if err := tx.Commit(ctx); err != nil {
		rollback(ctx, tx)

		return fmt.Errorf("committing run transaction: %w", err)
	}

	return nil
}

// abort rolls back the run-wide transaction, if one is open. It reports
// whether there was anything to roll back.
func (s *txScope) abort(ctx context.Context) bool {
	if s.shared == nil {
		return false
	}

	rollback(ctx, s.shared)
	s.shared = nil

	return true
}

// rollback runs on a context detached from cancellation so an expired
// execution timeout does not leave the transaction open.
func rollback(ctx context.Context, tx Tx) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	_ = tx.Rollback(rbCtx) //nolint:errcheck // rollback after a failed or committed tx is best-effort
}
