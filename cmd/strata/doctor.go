package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/internal/doctor"
	"github.com/pthm/strata/pkg/migration"
)

var (
	doctorDB      string
	doctorDir     string
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Run health checks on the migrations directory and the target database.`,
	Example: `  # Run health checks
  strata doctor --db postgres://localhost/mydb

  # Run with verbose output
  strata doctor --db postgres://localhost/mydb --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveString(doctorDir, cfg.ResolvedDir(cfg.Doctor.Dir))
		verboseFlag := resolveBool(doctorVerbose, cfg.Doctor.Verbose)

		return runDoctor(cmd, dir, verboseFlag)
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.StringVar(&doctorDir, "dir", "", "directory containing NNN_name.sql files")
	f.BoolVar(&doctorVerbose, "verbose", false, "show detailed output")
}

func runDoctor(cmd *cobra.Command, dir string, verboseFlag bool) error {
	src := migration.NewDirSource(dir)
	locker := migration.NewAdvisoryLocker(cfg.Migrate.LockKey)

	// A broken database configuration is a finding, not a reason to skip
	// the directory checks.
	db, dbErr := openDB(doctorDB)
	if db != nil {
		defer func() { _ = db.Close() }()
	}
	d := doctor.New(db, src, locker)
	if dbErr != nil {
		d.WithDBError(dbErr)
	}

	if !quiet {
		fmt.Println("strata doctor - Health Check")
	}

	report, err := d.Run(cmd.Context())
	if err != nil {
		return cli.GeneralError("running doctor", err)
	}

	report.Print(os.Stdout, verboseFlag)

	if report.HasErrors() {
		return cli.GeneralError("health checks failed", nil)
	}

	return nil
}
