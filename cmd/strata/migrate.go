package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/pkg/migration"
)

var (
	migrateDB              string
	migrateDir             string
	migrateRange           string
	migrateDryRun          bool
	migrateLock            bool
	migrateLockKey         string
	migrateNoWait          bool
	migrateContinueOnError bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply migrations to the database",
	Long: `Apply every numbered .sql file in the migrations directory, in sequence
order, one transaction per file.

A migration that fails because its objects already exist is reported as
skipped. Any other failure rolls that migration back and halts the batch;
nothing after it is attempted.

Put "-- strata:no-transaction" at the top of a file to run it outside a
transaction (needed for CREATE INDEX CONCURRENTLY).`,
	Example: `  # Apply all migrations
  strata migrate --db postgres://localhost/mydb

  # Apply only migrations 3 to 7
  strata migrate --db postgres://localhost/mydb --range 3-7

  # Print the SQL that would run
  strata migrate --dir db/migrations --dry-run

  # Fail immediately if another migration holds the lock
  strata migrate --no-wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveString(migrateDir, cfg.ResolvedDir(cfg.Migrate.Dir))
		rangeSpec := resolveString(migrateRange, cfg.Migrate.Range)
		dryRun := resolveBool(migrateDryRun, cfg.Migrate.DryRun)
		continueOnError := resolveBool(migrateContinueOnError, cfg.Migrate.ContinueOnError)

		lock := cfg.Migrate.Lock
		if cmd.Flags().Changed("lock") {
			lock = migrateLock
		}

		rng, err := migration.ParseRange(rangeSpec)
		if err != nil {
			return cli.ConfigError("parsing range", err)
		}

		opts := migration.Options{
			Range:           rng,
			Logger:          logger,
			ContinueOnError: continueOnError,
		}
		if lock {
			locker := migration.NewAdvisoryLocker(resolveString(migrateLockKey, cfg.Migrate.LockKey))
			if migrateNoWait {
				locker.NoWait()
			}
			opts.Locker = locker
		}

		return runMigrate(cmd, dir, dryRun, opts)
	},
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&migrateDB, "db", "", "database URL")
	f.StringVar(&migrateDir, "dir", "", "directory containing NNN_name.sql files")
	f.StringVar(&migrateRange, "range", "", "sequence numbers to apply: 5, 3-7, 3- or -7")
	f.BoolVar(&migrateDryRun, "dry-run", false, "output migration SQL without applying")
	f.BoolVar(&migrateLock, "lock", true, "hold a PostgreSQL advisory lock for the whole batch")
	f.StringVar(&migrateLockKey, "lock-key", "", "advisory lock key (default: strata_migrations)")
	f.BoolVar(&migrateNoWait, "no-wait", false, "fail instead of waiting when the lock is held")
	f.BoolVar(&migrateContinueOnError, "continue-on-error", false, "keep going after a failed migration")
}

func runMigrate(cmd *cobra.Command, dir string, dryRun bool, opts migration.Options) error {
	ctx := cmd.Context()
	src := migration.NewDirSource(dir)

	if dryRun {
		opts.DryRun = os.Stdout
		opts.Locker = nil
		if !quiet {
			fmt.Fprintln(os.Stderr, "-- Dry-run mode: SQL will be output but not applied")
			fmt.Fprintln(os.Stderr, "")
		}
		_, err := migration.MigrateSource(ctx, nil, src, opts)
		return cli.Classify("reading migrations", err)
	}

	db, err := openDB(migrateDB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	report, err := migration.MigrateSource(ctx, db, src, opts)
	if err != nil {
		return cli.Classify("migrating", err)
	}

	if !quiet {
		if report.Started {
			fmt.Printf("Applying migrations from %s\n", dir)
			report.Print(os.Stdout)
		} else {
			fmt.Printf("No migrations selected in %s (range: %s).\n", dir, opts.Range)
		}
	}

	if failure := report.FirstFailure(); failure != nil {
		return cli.GeneralError(fmt.Sprintf("migration %s failed", failure.Definition.Name), failure.Err)
	}
	return nil
}
