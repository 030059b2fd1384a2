package cli

import (
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "plan",
	Short: "Show the scripts the next apply would run",
	Long: `Take the advisory lock, compare the scripts on disk with the ledger and
list the pending ones in execution order. Nothing is executed or recorded.`,
	RunE: runPlan,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	return executeRun(cmd, AppConfig, runOpts{dryRun: true})
}
