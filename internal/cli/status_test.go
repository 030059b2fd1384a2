package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aqasim81/dbrunner/internal/logger"
	"github.com/aqasim81/dbrunner/internal/script"
	"github.com/aqasim81/dbrunner/internal/tracker"
)

func TestBuildStatus(t *testing.T) {
	t.Parallel()

	onDisk := func(id, body string) script.Script {
		return script.Script{ID: id, Phase: script.PhaseMigration, Body: body, Checksum: script.ComputeChecksum(body)}
	}
	record := func(id, body, status string) tracker.AppliedRecord {
		return tracker.AppliedRecord{
			Phase:     script.PhaseMigration,
			ScriptID:  id,
			Checksum:  script.ComputeChecksum(body),
			Status:    status,
			AppliedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}
	}

	scripts := []script.Script{
		onDisk("0001_a", "A"),
		onDisk("0002_b", "B changed"),
		onDisk("0003_c", "C"),
		onDisk("0004_d", "D"),
	}
	records := []tracker.AppliedRecord{
		record("0000_gone", "X", tracker.StatusApplied),
		record("0001_a", "A", tracker.StatusApplied),
		record("0002_b", "B", tracker.StatusApplied),
		record("0003_c", "C", tracker.StatusFailed),
	}

	got := buildStatus(scripts, records)

	states := make(map[string]string, len(got))
	for _, e := range got {
		states[e.ScriptID] = e.State
	}

	assert.Equal(t, map[string]string{
		"0001_a":    stateApplied,
		"0002_b":    stateModified,
		"0003_c":    stateFailed,
		"0004_d":    statePending,
		"0000_gone": stateMissing,
	}, states)

	require.Len(t, got, 5)
	assert.Equal(t, "0000_gone", got[4].ScriptID, "missing files are listed last")
	assert.Nil(t, got[2].AppliedAt, "failed rows have no applied time")
	assert.NotNil(t, got[0].AppliedAt)
}

func TestBuildStatus_seedScopesAreSeparate(t *testing.T) {
	t.Parallel()

	seed := script.Script{ID: "0001_a", Phase: script.PhaseSeed, Environment: "dev", Checksum: "x"}
	migrationRecord := tracker.AppliedRecord{Phase: script.PhaseMigration, ScriptID: "0001_a", Checksum: "x", Status: tracker.StatusApplied}

	got := buildStatus([]script.Script{seed}, []tracker.AppliedRecord{migrationRecord})
	require.Len(t, got, 2)
	assert.Equal(t, statePending, got[0].State)
	assert.Equal(t, stateMissing, got[1].State)
}

func TestPrintStatus_empty(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	printStatus(buf, nil)
	assert.Equal(t, "No scripts found.\n", buf.String())
}

func TestCommandContext(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}

	_, log := commandContext(cmd)
	assert.NotNil(t, log)

	want := zap.NewExample()
	cmd.SetContext(logger.NewContextWithLogger(context.Background(), want))

	_, got := commandContext(cmd)
	assert.Same(t, want, got)
}
