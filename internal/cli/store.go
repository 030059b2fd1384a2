package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aqasim81/dbrunner/internal/config"
	"github.com/aqasim81/dbrunner/internal/database"
	"github.com/aqasim81/dbrunner/internal/runner"
	"github.com/aqasim81/dbrunner/internal/sqlite"
	"github.com/aqasim81/dbrunner/internal/tracker"
)

// errDatabaseURLRequired is returned when no database URL is configured.
var errDatabaseURLRequired = errors.New( //nolint:gochecknoglobals // sentinel error
	"database URL is required (set --database-url, MIGRATE_DATABASE_URL, or database_url in config)",
)

// ledgerStore is a runner.Store whose whole ledger can be listed.
type ledgerStore interface {
	runner.Store
	// Connect reaches the store without creating the database or any table.
	Connect(ctx context.Context) error
	All(ctx context.Context) ([]tracker.AppliedRecord, error)
}

// storeMode selects whether openStore may create things.
type storeMode int

const (
	storeReadWrite storeMode = iota
	storeReadOnly
)

// openStore builds the store for cfg.Driver. A read-only store never
// creates the database. The returned close function must be called once
// the store is no longer needed.
func openStore(cfg *config.Config, log *zap.Logger, mode storeMode) (ledgerStore, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, errDatabaseURLRequired
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		s := database.NewStore(database.StoreConfig{
			DatabaseURL:      cfg.DatabaseURL,
			CreateDatabase:   cfg.CreateDatabase && mode == storeReadWrite,
			StatementTimeout: cfg.StatementTimeout,
			LockTimeout:      cfg.DDLLockTimeout,
			Logger:           log,
		})

		return s, s.Close, nil
	case config.DriverSQLite:
		opts := []sqlite.Option{sqlite.WithLease(cfg.LockTimeout + cfg.ExecutionTimeout)}
		if mode == storeReadOnly {
			opts = append(opts, sqlite.ReadOnly())
		}

		s, err := sqlite.Open(cfg.DatabaseURL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}

		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn("Closing sqlite store", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}
