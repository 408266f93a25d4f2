package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/internal/logging"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     = zap.NewNop()

	// Persistent flags
	cfgFile   string
	logFormat string
	verbose   int
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Versioned PostgreSQL schema migrations",
	Long: `strata - Versioned PostgreSQL schema migrations

Strata applies a directory of numbered SQL files to a PostgreSQL database in
sequence order, one transaction per file. Re-running is safe: a migration that
fails because its objects already exist is recorded as skipped, and any other
failure halts the batch.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		level, err := logging.Level(cfg.Log.Level, verbose, quiet)
		if err != nil {
			return cli.ConfigError("log configuration", err)
		}
		logger, err = logging.New(os.Stderr, level, resolveString(logFormat, cfg.Log.Format))
		if err != nil {
			return cli.ConfigError("log configuration", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupMigrations = "migrations"
	groupUtility    = "utility"
)

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover strata.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupMigrations, Title: "Migrations:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	migrateCmd.GroupID = groupMigrations
	listCmd.GroupID = groupMigrations
	doctorCmd.GroupID = groupMigrations
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doctorCmd)

	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context;
// the in-flight migration is rolled back and the batch halts.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cli.ExitWithError(err)
	}
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool returns true if any of the provided values is true.
// Used for boolean flags where any true value should win.
func resolveBool(values ...bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}
