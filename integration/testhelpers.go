//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aqasim81/dbrunner/internal/config"
)

const (
	postgresImage = "postgres:16-alpine"
	testDB        = "dbrunner_test"
	testUser      = "dbrunner"
	testPassword  = "dbrunner"
)

// SetupPostgresDSN starts a PostgreSQL 16 container and returns its
// connection string. The container is terminated when the test completes.
func SetupPostgresDSN(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDB,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return "postgres://" + testUser + ":" + testPassword + "@" + host + ":" + port.Port() + "/" + testDB + "?sslmode=disable"
}

// SetupPostgres starts a container and returns a connection pool to it.
func SetupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	return connect(t, SetupPostgresDSN(t))
}

func connect(t *testing.T, dsn string) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
	})

	require.NoError(t, pool.Ping(ctx))

	return pool
}

// writeScripts lays out files (slash-separated names relative to a new
// temporary directory) and returns the directory.
func writeScripts(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()

	for name, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}

	return dir
}

// runnerConfig returns a PostgreSQL runner configuration for scripts under dir.
func runnerConfig(dsn, dir, env string) *config.Config {
	cfg := config.New()
	cfg.DatabaseURL = dsn
	cfg.MigrationsDir = filepath.Join(dir, "migrations")
	cfg.SeedsDir = filepath.Join(dir, "seeds")
	cfg.Environment = env
	cfg.LockTimeout = 10 * time.Second
	cfg.LockRetryInterval = 50 * time.Millisecond
	cfg.ExecutionTimeout = time.Minute

	return cfg
}
