package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/dbrunner/internal/analyzer"
	"github.com/aqasim81/dbrunner/internal/config"
	"github.com/aqasim81/dbrunner/internal/script"
)

// setupTestConfig sets AppConfig for the duration of the test and restores it on cleanup.
func setupTestConfig(t *testing.T, migrationsDir string) {
	t.Helper()

	old := AppConfig
	AppConfig = config.New()
	AppConfig.MigrationsDir = migrationsDir

	t.Cleanup(func() { AppConfig = old })
}

// newAnalyzeCmd creates a fresh cobra.Command wired to runAnalyze with a captured output buffer.
func newAnalyzeCmd(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{
		Use:  "analyze [migration-dir]",
		RunE: runAnalyze,
	}
	cmd.Flags().Bool("fail-on-high", false, "exit with non-zero code if high/critical findings exist")
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	return cmd, buf
}

func scriptNamed(id string) *script.Script {
	return &script.Script{ID: id, Phase: script.PhaseMigration}
}

func TestCountScriptsWithFindings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		results  []analyzer.Result
		expected int
	}{
		{name: "empty results", expected: 0},
		{
			name:     "no findings",
			results:  []analyzer.Result{{Script: scriptNamed("0001")}},
			expected: 0,
		},
		{
			name: "one with findings",
			results: []analyzer.Result{
				{Script: scriptNamed("0001")},
				{Script: scriptNamed("0002"), Findings: []analyzer.Finding{{Rule: "test"}}},
			},
			expected: 1,
		},
		{
			name: "all with findings",
			results: []analyzer.Result{
				{Script: scriptNamed("0001"), Findings: []analyzer.Finding{{Rule: "a"}}},
				{Script: scriptNamed("0002"), Findings: []analyzer.Finding{{Rule: "b"}}},
			},
			expected: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, countScriptsWithFindings(tt.results))
		})
	}
}

func TestPrintAnalysisResults_noFindings_printsNoDangers(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	hasHigh := printAnalysisResults(cmd, []analyzer.Result{{Script: scriptNamed("0001_safe")}})
	assert.False(t, hasHigh)
	assert.Contains(t, buf.String(), "No dangerous operations detected.")
}

func TestPrintAnalysisResults_withFindings_formatsOutput(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	results := []analyzer.Result{
		{
			Script:      scriptNamed("0001_dangerous"),
			MaxSeverity: analyzer.High,
			Findings: []analyzer.Finding{
				{
					Rule:       "create-index-not-concurrent",
					Severity:   analyzer.High,
					Table:      "users",
					Statement:  "CREATE INDEX idx ON users (email)",
					Message:    "Index creation locks table",
					Suggestion: "Use CREATE INDEX CONCURRENTLY",
					LockType:   "SHARE",
				},
			},
		},
	}

	hasHigh := printAnalysisResults(cmd, results)
	assert.True(t, hasHigh)

	output := buf.String()
	assert.Contains(t, output, "=== 0001_dangerous ===")
	assert.Contains(t, output, "[HIGH]")
	assert.Contains(t, output, "Table: users")
	assert.Contains(t, output, "Rule:  create-index-not-concurrent")
	assert.Contains(t, output, "Lock:  SHARE")
	assert.Contains(t, output, "SQL:   CREATE INDEX idx ON users (email)")
	assert.Contains(t, output, "Fix:   Use CREATE INDEX CONCURRENTLY")
	assert.Contains(t, output, "Found 1 finding(s) across 1 script(s).")
}

func TestPrintAnalysisResults_lowSeverityOnly_returnsFalse(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	results := []analyzer.Result{
		{
			Script:      scriptNamed("0001_mild"),
			MaxSeverity: analyzer.Low,
			Findings:    []analyzer.Finding{{Rule: "test-rule", Severity: analyzer.Low, Message: "minor concern"}},
		},
	}

	assert.False(t, printAnalysisResults(cmd, results))
	assert.Contains(t, buf.String(), "Found 1 finding(s)")
	assert.NotContains(t, buf.String(), "SQL:")
	assert.NotContains(t, buf.String(), "Lock:")
}

func TestRunAnalyze_withTestdata_producesOutput(t *testing.T) { // not parallel: mutates global AppConfig
	dir := filepath.Join("testdata", "migrations")
	setupTestConfig(t, dir)

	cmd, buf := newAnalyzeCmd(t)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "=== 0002_users_email_idx ===")
	assert.Contains(t, buf.String(), "Found 1 finding(s) across 1 script(s).")
}

func TestRunAnalyze_emptyDir_printsNoMigrations(t *testing.T) { // not parallel: mutates global AppConfig
	dir := t.TempDir()
	setupTestConfig(t, dir)

	cmd, buf := newAnalyzeCmd(t)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No migration files found.")
}

func TestRunAnalyze_notADirectory_returnsError(t *testing.T) { // not parallel: mutates global AppConfig
	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	setupTestConfig(t, file)

	cmd, _ := newAnalyzeCmd(t)
	cmd.SetArgs([]string{file})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading migrations")
}

func TestRunAnalyze_unparseableScript_returnsError(t *testing.T) { // not parallel: mutates global AppConfig
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_bad.sql"), []byte("CREATE TABLE (;"), 0o600))
	setupTestConfig(t, dir)

	cmd, _ := newAnalyzeCmd(t)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_bad")
}

func TestRunAnalyze_failOnHigh_returnsError(t *testing.T) { // not parallel: mutates global AppConfig
	dir := filepath.Join("testdata", "migrations")
	setupTestConfig(t, dir)

	cmd, _ := newAnalyzeCmd(t)
	cmd.SetArgs([]string{"--fail-on-high", dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, errHighSeverityFindings)
}

func TestRunAnalyze_usesConfigDir_whenNoArgs(t *testing.T) { // not parallel: mutates global AppConfig
	setupTestConfig(t, filepath.Join("testdata", "migrations"))

	cmd, buf := newAnalyzeCmd(t)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "finding(s)")
}
