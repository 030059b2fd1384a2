package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aqasim81/dbrunner/internal/analyzer"
	"github.com/aqasim81/dbrunner/internal/analyzer/rules"
	"github.com/aqasim81/dbrunner/internal/config"
	"github.com/aqasim81/dbrunner/internal/metrics"
	"github.com/aqasim81/dbrunner/internal/runner"
)

var applyCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "apply",
	Short: "Apply pending migrations and seeds",
	Long: `Apply pending migration scripts, then the seed scripts of the configured
environment. The run waits up to lock_timeout for the advisory lock and
stops at the first failing script.`,
	RunE: runApply,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	applyCmd.Flags().Bool("dry-run", false, "show what would be applied without executing")
	applyCmd.Flags().String("metrics-file", "", "write run metrics in Prometheus text format to this file")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, _ []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")

	return executeRun(cmd, AppConfig, runOpts{dryRun: dryRun, metricsFile: metricsFile})
}

type runOpts struct {
	dryRun      bool
	metricsFile string
}

func executeRun(cmd *cobra.Command, cfg *config.Config, opts runOpts) error {
	out := cmd.OutOrStdout()

	if !cfg.Enabled {
		fmt.Fprintln(out, "Runner disabled, nothing to do.")
		return nil
	}

	ctx, log := commandContext(cmd)

	store, closeStore, err := openStore(cfg, log, storeReadWrite)
	if err != nil {
		return err
	}
	defer closeStore()

	collector := metrics.New(metrics.DefaultNamespace)

	r, err := runner.New(store, cfg, runnerOptions(cfg, log, out, collector, opts.dryRun)...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Connecting to %s\n", config.RedactURL(cfg.DatabaseURL))

	if opts.dryRun {
		fmt.Fprintln(out, "\n--- DRY RUN (no changes will be made) ---")
	}

	res, runErr := r.Run(ctx)
	printSummary(out, res, opts.dryRun)

	if opts.metricsFile != "" {
		if err := collector.WriteTextfile(opts.metricsFile); err != nil {
			log.Warn("Writing metrics file", zap.String("path", opts.metricsFile), zap.Error(err))
		}
	}

	return runErr
}

func runnerOptions(cfg *config.Config, log *zap.Logger, out io.Writer, c *metrics.Collector, dryRun bool) []runner.Option {
	opts := []runner.Option{
		runner.WithLogger(log),
		runner.WithMetrics(c),
		runner.WithDryRun(dryRun),
		runner.WithProgressCallback(progressPrinter(out)),
	}

	if cfg.Preflight != config.PreflightOff {
		a := analyzer.New(
			analyzer.WithRegistry(rules.NewDefaultRegistry()),
			analyzer.WithPGVersion(cfg.TargetPGVersion),
		)
		opts = append(opts, runner.WithPreflight(analyzer.NewGate(a, cfg.Preflight == config.PreflightBlock, log)))
	}

	return opts
}

func progressPrinter(out io.Writer) func(runner.ProgressEvent) {
	return func(event runner.ProgressEvent) {
		name := event.Script.Scope().String() + " " + event.Script.ID

		switch event.Status {
		case runner.ProgressStarting:
			fmt.Fprintf(out, "  Applying %s ... ", name)
		case runner.ProgressCompleted:
			fmt.Fprintf(out, "done (%s)\n", event.Duration.Truncate(time.Millisecond))
		case runner.ProgressFailed:
			fmt.Fprintf(out, "FAILED\n")
			fmt.Fprintf(out, "    Error: %v\n", event.Error)
		case runner.ProgressPlanned:
			fmt.Fprintf(out, "  Would apply %s\n", name)
		}
	}
}

func printSummary(out io.Writer, res *runner.Result, dryRun bool) {
	if res == nil {
		return
	}

	switch {
	case dryRun && res.Succeeded:
		fmt.Fprintf(out, "\nDry run complete: %d script(s) would be applied, %d already applied.\n",
			res.Count(runner.StatusPlanned), res.Skipped)
	case res.Succeeded:
		fmt.Fprintf(out, "\nApply complete: %d applied, %d skipped (%s).\n",
			res.Count(runner.StatusApplied), res.Skipped, res.Duration.Truncate(time.Millisecond))
	default:
		fmt.Fprintf(out, "\nRun failed in state %s: %d applied, %d rolled back.\n",
			res.State, res.Count(runner.StatusApplied), res.Count(runner.StatusRolledBack))
	}
}
