package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SetLocalTimeouts bounds every statement of tx. lock_timeout makes DDL
// fail fast instead of queueing behind long-running queries; zero values
// leave the server default in place. SET LOCAL ends with the transaction.
func SetLocalTimeouts(ctx context.Context, tx pgx.Tx, statement, lock time.Duration) error {
	if statement > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", statement.Milliseconds())); err != nil {
			return fmt.Errorf("setting statement_timeout: %w", err)
		}
	}

	if lock > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lock.Milliseconds())); err != nil {
			return fmt.Errorf("setting lock_timeout: %w", err)
		}
	}

	return nil
}
