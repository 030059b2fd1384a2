package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/dbrunner/internal/analyzer"
	"github.com/aqasim81/dbrunner/internal/config"
	"github.com/aqasim81/dbrunner/internal/runner"
)

// setupSQLiteConfig points AppConfig at a fresh SQLite file and the cli
// testdata scripts, and restores it on cleanup.
func setupSQLiteConfig(t *testing.T, env string) *config.Config {
	t.Helper()

	old := AppConfig
	t.Cleanup(func() { AppConfig = old })

	cfg := config.New()
	cfg.Driver = config.DriverSQLite
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "app.db")
	cfg.MigrationsDir = filepath.Join("testdata", "migrations")
	cfg.SeedsDir = filepath.Join("testdata", "seeds")
	cfg.Environment = env
	cfg.LockTimeout = 5 * time.Second
	cfg.LockRetryInterval = 10 * time.Millisecond
	cfg.ExecutionTimeout = 30 * time.Second

	AppConfig = cfg

	return cfg
}

func newCmd(t *testing.T, run func(*cobra.Command, []string) error) (*cobra.Command, *bytes.Buffer) {
	t.Helper()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{Use: "test", RunE: run}
	cmd.Flags().Bool("dry-run", false, "")
	cmd.Flags().String("metrics-file", "", "")
	cmd.Flags().String("format", "text", "")
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	return cmd, buf
}

func TestRunApply_appliesThenSkips(t *testing.T) { // not parallel: mutates global AppConfig
	setupSQLiteConfig(t, "dev")

	cmd, buf := newCmd(t, runApply)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Applying migration 0001_users ... done")
	assert.Contains(t, buf.String(), "Applying seed/dev 0001_admin ... done")
	assert.Contains(t, buf.String(), "Apply complete: 3 applied, 0 skipped")

	cmd, buf = newCmd(t, runApply)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Apply complete: 0 applied, 3 skipped")
}

func TestRunApply_dryRunThenPlanMatch(t *testing.T) { // not parallel: mutates global AppConfig
	setupSQLiteConfig(t, "")

	cmd, buf := newCmd(t, runApply)
	cmd.SetArgs([]string{"--dry-run"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "DRY RUN")
	assert.Contains(t, buf.String(), "Would apply migration 0002_users_email_idx")
	assert.Contains(t, buf.String(), "2 script(s) would be applied, 0 already applied")

	cmd, buf = newCmd(t, runPlan)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "2 script(s) would be applied")
}

func TestRunApply_writesMetricsFile(t *testing.T) { // not parallel: mutates global AppConfig
	setupSQLiteConfig(t, "")
	path := filepath.Join(t.TempDir(), "dbrunner.prom")

	cmd, _ := newCmd(t, runApply)
	cmd.SetArgs([]string{"--metrics-file", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `dbrunner_runs_total{outcome="succeeded"} 1`)
	assert.Contains(t, string(data), `dbrunner_scripts_total{phase="migration",status="applied"} 2`)
}

func TestRunApply_failingScriptReturnsError(t *testing.T) { // not parallel: mutates global AppConfig
	cfg := setupSQLiteConfig(t, "")

	dir := t.TempDir()
	cfg.MigrationsDir = dir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_ok.sql"), []byte("CREATE TABLE ok (id INTEGER);"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_bad.sql"), []byte("CREATE TABLE broken (;"), 0o600))

	cmd, buf := newCmd(t, runApply)

	err := cmd.Execute()
	require.ErrorIs(t, err, runner.ErrScriptExecution)
	assert.Contains(t, err.Error(), "0002_bad")
	assert.Contains(t, buf.String(), "FAILED")
	assert.Contains(t, buf.String(), "Run failed in state failed: 1 applied, 0 rolled back.")
}

func TestRunApply_preflightBlocksUnsafeMigration(t *testing.T) { // not parallel: mutates global AppConfig
	cfg := setupSQLiteConfig(t, "")
	cfg.Preflight = config.PreflightBlock

	cmd, buf := newCmd(t, runApply)

	err := cmd.Execute()
	require.ErrorIs(t, err, analyzer.ErrUnsafeScript)
	assert.NotContains(t, buf.String(), "Applying")
}

func TestRunApply_disabledDoesNothing(t *testing.T) { // not parallel: mutates global AppConfig
	cfg := setupSQLiteConfig(t, "")
	cfg.Enabled = false
	cfg.DatabaseURL = ""

	cmd, buf := newCmd(t, runApply)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Runner disabled")
}

func TestRunApply_missingDatabaseURL(t *testing.T) { // not parallel: mutates global AppConfig
	cfg := setupSQLiteConfig(t, "")
	cfg.DatabaseURL = ""

	cmd, _ := newCmd(t, runApply)
	require.ErrorIs(t, cmd.Execute(), errDatabaseURLRequired)
}

func TestRunApply_invalidConfig(t *testing.T) { // not parallel: mutates global AppConfig
	cfg := setupSQLiteConfig(t, "")
	cfg.TransactionMode = "sometimes"

	cmd, _ := newCmd(t, runApply)
	require.ErrorIs(t, cmd.Execute(), config.ErrInvalidConfig)
}

func TestRunStatus(t *testing.T) { // not parallel: mutates global AppConfig
	cfg := setupSQLiteConfig(t, "dev")

	cmd, buf := newCmd(t, runStatus)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "3 script(s), 3 pending.")
	assert.NoFileExists(t, cfg.DatabaseURL, "status must not create the database")

	cmd, _ = newCmd(t, runApply)
	require.NoError(t, cmd.Execute())

	cmd, buf = newCmd(t, runStatus)
	cmd.SetArgs([]string{"--format", "json"})
	require.NoError(t, cmd.Execute())

	var entries []statusEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	require.Len(t, entries, 3)

	for _, e := range entries {
		assert.Equal(t, stateApplied, e.State, e.ScriptID)
		assert.NotNil(t, e.AppliedAt)
	}

	assert.Equal(t, "dev", entries[2].Environment)
}

func TestRunStatus_unknownFormat(t *testing.T) { // not parallel: mutates global AppConfig
	setupSQLiteConfig(t, "")

	cmd, _ := newCmd(t, runStatus)
	cmd.SetArgs([]string{"--format", "yaml"})
	require.Error(t, cmd.Execute())
}
