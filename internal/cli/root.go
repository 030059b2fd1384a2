package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aqasim81/dbrunner/internal/config"
	"github.com/aqasim81/dbrunner/internal/logger"
)

const version = "0.1.0"

// AppConfig holds the loaded configuration, set during PersistentPreRunE.
var AppConfig *config.Config //nolint:gochecknoglobals // standard Cobra pattern for shared config

// rootCmd is the base command for the dbrunner CLI.
var rootCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:     "dbrunner",
	Version: version,
	Short:   "Apply SQL migrations and environment seeds exactly once",
	Long: `dbrunner applies versioned SQL migration scripts and per-environment
seed scripts to a database in lexical order. Concurrent instances coordinate
through an advisory lock, and every applied script is recorded in a ledger
table inside the same transaction that ran it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}

		log, err := logger.New(cmd.ErrOrStderr(), AppConfig.LogLevel, AppConfig.LogFormat)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cmd.SetContext(logger.NewContextWithLogger(ctx, log))

		return nil
	},
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	flags := rootCmd.PersistentFlags()
	flags.String("config", "dbrunner.yml", "path to configuration file")
	flags.String("database-url", "", "database connection string (PostgreSQL URL or SQLite file)")
	flags.String("driver", "", "store driver (postgres, sqlite)")
	flags.String("migrations-dir", "", "path to migration scripts")
	flags.String("seeds-dir", "", "path to seed scripts; seeds are read from <seeds-dir>/<environment>")
	flags.String("environment", "", "seed environment; seeds are skipped when empty")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration with precedence: flag > env > file.
func loadConfig(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	allowMissing := !cmd.Flags().Changed("config")

	cfg, err := config.Load(configPath, allowMissing)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	config.MergeEnv(cfg)
	mergeFlags(cmd, cfg)

	AppConfig = cfg

	return nil
}

// mergeFlags overrides config with explicitly-set CLI flags.
func mergeFlags(cmd *cobra.Command, cfg *config.Config) {
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"database-url", &cfg.DatabaseURL},
		{"driver", &cfg.Driver},
		{"migrations-dir", &cfg.MigrationsDir},
		{"seeds-dir", &cfg.SeedsDir},
		{"environment", &cfg.Environment},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
	}

	for _, o := range overrides {
		if cmd.Flags().Lookup(o.flag) != nil && cmd.Flags().Changed(o.flag) {
			*o.dst, _ = cmd.Flags().GetString(o.flag)
		}
	}
}

// commandContext returns the command's context and the logger stored in it
// by PersistentPreRunE, or a no-op logger when run outside rootCmd.
func commandContext(cmd *cobra.Command) (context.Context, *zap.Logger) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return ctx, logger.FromContext(ctx)
}
