//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/dbrunner/internal/config"
	"github.com/aqasim81/dbrunner/internal/database"
)

func TestAdvisoryLock_acquireAndRelease(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	handle, ok, err := database.TryAcquireLock(ctx, pool, config.DefaultLockKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, handle)

	require.NoError(t, handle.Release(ctx))
}

func TestAdvisoryLock_doubleAcquire_notAcquired(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	handle1, ok, err := database.TryAcquireLock(ctx, pool, config.DefaultLockKey)
	require.NoError(t, err)
	require.True(t, ok)

	t.Cleanup(func() {
		_ = handle1.Release(context.Background())
	})

	handle2, ok, err := database.TryAcquireLock(ctx, pool, config.DefaultLockKey)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, handle2)

	handle3, ok, err := database.TryAcquireLock(ctx, pool, config.DefaultLockKey+1)
	require.NoError(t, err)
	assert.True(t, ok, "a different key is an independent lock")
	require.NoError(t, handle3.Release(ctx))
}

func TestAdvisoryLock_releaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	handle1, _, err := database.TryAcquireLock(ctx, pool, config.DefaultLockKey)
	require.NoError(t, err)
	require.NoError(t, handle1.Release(ctx))

	handle2, ok, err := database.TryAcquireLock(ctx, pool, config.DefaultLockKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, handle2.Release(ctx))
}

func TestLockHandle_Release_idempotent(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	handle, _, err := database.TryAcquireLock(ctx, pool, config.DefaultLockKey)
	require.NoError(t, err)

	require.NoError(t, handle.Release(ctx))
	require.NoError(t, handle.Release(ctx))
}

func TestLockHandle_Release_nilHandle_noError(t *testing.T) {
	t.Parallel()

	var handle *database.LockHandle

	require.NoError(t, handle.Release(context.Background()))
}
