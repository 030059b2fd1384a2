package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqasim81/dbrunner/internal/config"
	"github.com/aqasim81/dbrunner/internal/script"
	"github.com/aqasim81/dbrunner/internal/tracker"
)

// Script states shown by status.
const (
	stateApplied  = "applied"
	stateFailed   = "failed"
	statePending  = "pending"
	stateModified = "modified"
	stateMissing  = "missing"
)

var statusCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "status",
	Short: "Show applied and pending scripts",
	Long: `Display every migration and seed script known to the ledger or found on
disk, with its state: applied, failed, pending, modified (applied but the
file changed) or missing (applied but the file is gone).`,
	RunE: runStatus,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	statusCmd.Flags().String("format", "text", "output format (text, json)")
	rootCmd.AddCommand(statusCmd)
}

type statusEntry struct {
	Phase       script.Phase `json:"phase"`
	Environment string       `json:"environment,omitempty"`
	ScriptID    string       `json:"script_id"`
	State       string       `json:"state"`
	AppliedAt   *time.Time   `json:"applied_at,omitempty"`
	DurationMs  int          `json:"duration_ms,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}

	cfg := AppConfig

	ctx, log := commandContext(cmd)

	store, closeStore, err := openStore(cfg, log, storeReadOnly)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}

	var records []tracker.AppliedRecord

	exists, err := store.LedgerExists(ctx)
	if err != nil {
		return fmt.Errorf("checking ledger: %w", err)
	}

	if exists {
		if records, err = store.All(ctx); err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}
	}

	scripts, err := discover(cfg)
	if err != nil {
		return err
	}

	entries := buildStatus(scripts, records)

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(entries)
	}

	printStatus(cmd.OutOrStdout(), entries)

	return nil
}

// discover loads the migrations and, when an environment is configured,
// its seeds.
func discover(cfg *config.Config) ([]script.Script, error) {
	migrations, err := script.LoadMigrations(cfg.MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	if cfg.Environment == "" {
		return migrations, nil
	}

	seeds, err := script.LoadSeeds(cfg.SeedsDir, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("loading seeds: %w", err)
	}

	return append(migrations, seeds...), nil
}

type scriptKey struct {
	scope script.Scope
	id    string
}

// buildStatus merges disk and ledger. Scripts on disk come first in
// execution order, followed by ledger rows whose file is gone.
func buildStatus(scripts []script.Script, records []tracker.AppliedRecord) []statusEntry {
	ledger := make(map[scriptKey]tracker.AppliedRecord, len(records))
	for _, rec := range records {
		ledger[scriptKey{script.Scope{Phase: rec.Phase, Environment: rec.Environment}, rec.ScriptID}] = rec
	}

	entries := make([]statusEntry, 0, len(scripts)+len(records))
	seen := make(map[scriptKey]bool, len(scripts))

	for i := range scripts {
		s := &scripts[i]
		key := scriptKey{s.Scope(), s.ID}
		seen[key] = true

		e := statusEntry{Phase: s.Phase, Environment: s.Environment, ScriptID: s.ID, State: statePending}

		if rec, ok := ledger[key]; ok {
			e.State = recordState(rec)
			if e.State == stateApplied && rec.Checksum != s.Checksum {
				e.State = stateModified
			}

			if rec.Status == tracker.StatusApplied {
				at := rec.AppliedAt
				e.AppliedAt = &at
				e.DurationMs = rec.DurationMs
			}
		}

		entries = append(entries, e)
	}

	for _, rec := range records {
		key := scriptKey{script.Scope{Phase: rec.Phase, Environment: rec.Environment}, rec.ScriptID}
		if seen[key] || rec.Status != tracker.StatusApplied {
			continue
		}

		at := rec.AppliedAt
		entries = append(entries, statusEntry{
			Phase:       rec.Phase,
			Environment: rec.Environment,
			ScriptID:    rec.ScriptID,
			State:       stateMissing,
			AppliedAt:   &at,
			DurationMs:  rec.DurationMs,
		})
	}

	return entries
}

func recordState(rec tracker.AppliedRecord) string {
	if rec.Status == tracker.StatusFailed {
		return stateFailed
	}

	return stateApplied
}

func printStatus(out io.Writer, entries []statusEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No scripts found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tSCRIPT\tSTATE\tAPPLIED AT")

	pending := 0

	for _, e := range entries {
		appliedAt := "-"
		if e.AppliedAt != nil {
			appliedAt = e.AppliedAt.UTC().Format(time.RFC3339)
		}

		if e.State == statePending || e.State == stateFailed {
			pending++
		}

		scope := script.Scope{Phase: e.Phase, Environment: e.Environment}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", scope, e.ScriptID, e.State, appliedAt)
	}

	_ = w.Flush()

	fmt.Fprintf(out, "\n%d script(s), %d pending.\n", len(entries), pending)
}
