//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/dbrunner/internal/script"
	"github.com/aqasim81/dbrunner/internal/tracker"
)

var (
	migrationScope = script.Scope{Phase: script.PhaseMigration}
	devSeedScope   = script.Scope{Phase: script.PhaseSeed, Environment: "dev"}
)

func TestTracker_fullLifecycle(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	tr := tracker.New(pool)

	exists, err := tr.TableExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, tr.EnsureTable(ctx))
	require.NoError(t, tr.EnsureTable(ctx))

	exists, err = tr.TableExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	applied, err := tr.Applied(ctx, migrationScope)
	require.NoError(t, err)
	assert.Empty(t, applied)

	require.NoError(t, tr.RecordApplied(ctx, tracker.RecordParams{Scope: migrationScope, ScriptID: "0002_b", Checksum: "b", DurationMs: 7}))
	require.NoError(t, tr.RecordApplied(ctx, tracker.RecordParams{Scope: migrationScope, ScriptID: "0001_a", Checksum: "a", DurationMs: 3}))
	require.NoError(t, tr.RecordApplied(ctx, tracker.RecordParams{Scope: devSeedScope, ScriptID: "0001_a", Checksum: "s"}))

	applied, err = tr.Applied(ctx, migrationScope)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "0001_a", applied[0].ScriptID)
	assert.Equal(t, "0002_b", applied[1].ScriptID)
	assert.Equal(t, 7, applied[1].DurationMs)
	assert.Equal(t, tracker.StatusApplied, applied[0].Status)
	assert.False(t, applied[0].AppliedAt.IsZero())

	seeds, err := tr.Applied(ctx, devSeedScope)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "dev", seeds[0].Environment)
	assert.Equal(t, script.PhaseSeed, seeds[0].Phase)

	all, err := tr.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTracker_RecordFailed_neverOverwritesApplied(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	tr := tracker.New(pool)
	require.NoError(t, tr.EnsureTable(ctx))

	p := tracker.RecordParams{Scope: migrationScope, ScriptID: "0001_a", Checksum: "a"}

	require.NoError(t, tr.RecordFailed(ctx, p))

	all, err := tr.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, tracker.StatusFailed, all[0].Status)

	applied, err := tr.Applied(ctx, migrationScope)
	require.NoError(t, err)
	assert.Empty(t, applied, "failed rows are not applied")

	require.NoError(t, tr.RecordApplied(ctx, p))
	require.NoError(t, tr.RecordFailed(ctx, p))

	all, err = tr.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, tracker.StatusApplied, all[0].Status)
}

func TestTracker_WithTx_rollbackDiscardsRecord(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	tr := tracker.New(pool)
	require.NoError(t, tr.EnsureTable(ctx))

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.WithTx(tx).RecordApplied(ctx, tracker.RecordParams{Scope: migrationScope, ScriptID: "0001_a", Checksum: "a"}))
	require.NoError(t, tx.Rollback(ctx))

	applied, err := tr.Applied(ctx, migrationScope)
	require.NoError(t, err)
	assert.Empty(t, applied)
}
