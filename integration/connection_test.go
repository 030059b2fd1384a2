//go:build integration

package integration

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/dbrunner/internal/database"
)

func TestNewPool_validConnection_succeeds(t *testing.T) {
	t.Parallel()

	dsn := SetupPostgresDSN(t)
	ctx := context.Background()

	pool, err := database.NewPool(ctx, dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
	})

	var result int

	require.NoError(t, pool.QueryRow(ctx, "SELECT 1").Scan(&result))
	assert.Equal(t, 1, result)
}

func TestNewPool_invalidURL_returnsError(t *testing.T) {
	t.Parallel()

	_, err := database.NewPool(context.Background(), "not-valid")
	require.ErrorIs(t, err, database.ErrInvalidDatabaseURL)
}

func TestEnsureDatabase_createsOnce(t *testing.T) {
	t.Parallel()

	dsn := strings.Replace(SetupPostgresDSN(t), "/"+testDB+"?", "/fresh_app?", 1)
	ctx := context.Background()

	created, err := database.EnsureDatabase(ctx, dsn)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = database.EnsureDatabase(ctx, dsn)
	require.NoError(t, err)
	assert.False(t, created)

	pool := connect(t, dsn)

	var name string

	require.NoError(t, pool.QueryRow(ctx, "SELECT current_database()").Scan(&name))
	assert.Equal(t, "fresh_app", name)
}

func TestStore_Ensure_missingDatabaseIsUnavailable(t *testing.T) {
	t.Parallel()

	dsn := strings.Replace(SetupPostgresDSN(t), "/"+testDB+"?", "/absent_app?", 1)

	s := database.NewStore(database.StoreConfig{DatabaseURL: dsn})
	t.Cleanup(s.Close)

	require.ErrorIs(t, s.Ensure(context.Background()), database.ErrConnectionFailed)
}

func TestStore_Connect_neverCreatesDatabase(t *testing.T) {
	t.Parallel()

	dsn := strings.Replace(SetupPostgresDSN(t), "/"+testDB+"?", "/status_only?", 1)
	ctx := context.Background()

	s := database.NewStore(database.StoreConfig{DatabaseURL: dsn, CreateDatabase: true})
	t.Cleanup(s.Close)

	require.ErrorIs(t, s.Connect(ctx), database.ErrConnectionFailed)

	created, err := database.EnsureDatabase(ctx, dsn)
	require.NoError(t, err)
	assert.True(t, created, "Connect must leave the database uncreated")

	require.NoError(t, s.Ensure(ctx))
	require.NoError(t, s.Connect(ctx), "an open pool is only pinged")
}
