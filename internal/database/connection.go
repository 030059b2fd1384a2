package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns = 5

	// maintenanceDB is connected to when the target database may not exist yet.
	maintenanceDB = "postgres"

	// duplicateDatabase is the SQLSTATE for CREATE DATABASE on an existing name.
	duplicateDatabase = "42P04"
)

// NewPool creates a pgx connection pool for the given database URL.
// It parses the connection string, sets a conservative max connection limit,
// and pings the database to verify connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDatabaseURL, err)
	}

	poolCfg.MaxConns = defaultMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return pool, nil
}

// EnsureDatabase creates the database named in databaseURL if it does not
// exist, connecting to the maintenance database with the same credentials.
// It reports whether the database was created.
func EnsureDatabase(ctx context.Context, databaseURL string) (bool, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidDatabaseURL, err)
	}

	name := cfg.Database
	if name == "" || name == maintenanceDB {
		return false, nil
	}

	cfg.Database = maintenanceDB

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return false, fmt.Errorf("%w: connecting to %s database: %w", ErrConnectionFailed, maintenanceDB, err)
	}
	defer conn.Close(ctx) //nolint:errcheck // nothing to recover on close

	var exists bool

	err = conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking for database %s: %w", name, err)
	}

	if exists {
		return false, nil
	}

	_, err = conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == duplicateDatabase {
			return false, nil
		}

		return false, fmt.Errorf("creating database %s: %w", name, err)
	}

	return true, nil
}
