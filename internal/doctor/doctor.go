// Package doctor provides health checks for a strata migrations setup.
//
// The doctor command validates that the migrations directory is readable,
// that the catalog built from it is sane, and that the database accepts
// connections and the migration lock.
//
// Example usage:
//
//	d := doctor.New(db, migration.NewDirSource("migrations"), migration.NewAdvisoryLocker(""))
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/pthm/strata/pkg/migration"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return color.GreenString("✓")
	case StatusWarn:
		return color.YellowString("⚠")
	case StatusFail:
		return color.RedString("✗")
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Migrations Directory", "Database").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Check returns the first check with the given name, or nil.
func (r *Report) Check(name string) *CheckResult {
	for i := range r.Checks {
		if r.Checks[i].Name == name {
			return &r.Checks[i]
		}
	}
	return nil
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

const (
	categoryDirectory = "Migrations Directory"
	categoryCatalog   = "Catalog"
	categoryDatabase  = "Database"
)

// Doctor performs health checks on a migrations directory and its target
// database.
type Doctor struct {
	db     *sql.DB
	src    *migration.Source
	locker *migration.AdvisoryLocker

	// dbErr is reported instead of connecting when the caller could not
	// build a database handle.
	dbErr error
}

// New creates a new Doctor instance. db may be nil, in which case the
// database checks fail. locker may be nil to skip the lock check.
func New(db *sql.DB, src *migration.Source, locker *migration.AdvisoryLocker) *Doctor {
	return &Doctor{db: db, src: src, locker: locker}
}

// WithDBError records why no database handle is available.
func (d *Doctor) WithDBError(err error) *Doctor {
	d.dbErr = err
	return d
}

// Run executes all health checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	if d.checkDirectory(report) {
		if err := d.checkCatalog(ctx, report); err != nil {
			return nil, fmt.Errorf("checking catalog: %w", err)
		}
	}
	if err := d.checkDatabase(ctx, report); err != nil {
		return nil, fmt.Errorf("checking database: %w", err)
	}

	return report, nil
}

// checkDirectory reports whether the directory could be listed, and on
// which files it skips.
func (d *Doctor) checkDirectory(report *Report) bool {
	excluded, err := d.src.Excluded()
	if err != nil {
		report.AddCheck(CheckResult{
			Category: categoryDirectory,
			Name:     "readable",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Cannot read migrations directory %s", d.src.Dir()),
			Details:  err.Error(),
			FixHint:  "Create the directory or point --dir / migrations_dir at it",
		})
		return false
	}

	report.AddCheck(CheckResult{
		Category: categoryDirectory,
		Name:     "readable",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Migrations directory %s is readable", d.src.Dir()),
	})

	var strays []string
	for _, name := range excluded {
		if strings.EqualFold(path.Ext(name), ".sql") {
			strays = append(strays, name)
		}
	}
	if len(strays) > 0 {
		report.AddCheck(CheckResult{
			Category: categoryDirectory,
			Name:     "excluded",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d SQL file(s) have no sequence number and will never run", len(strays)),
			Details:  strings.Join(strays, "\n"),
			FixHint:  "Rename them to NNN_description.sql",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: categoryDirectory,
			Name:     "excluded",
			Status:   StatusPass,
			Message:  "Every SQL file has a sequence number",
		})
	}
	return true
}

func (d *Doctor) checkCatalog(ctx context.Context, report *Report) error {
	cat, err := migration.LoadCatalog(ctx, d.src, nil)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		report.AddCheck(CheckResult{
			Category: categoryCatalog,
			Name:     "loaded",
			Status:   StatusFail,
			Message:  "Failed to read migration files",
			Details:  err.Error(),
			FixHint:  "Check file permissions in the migrations directory",
		})
		return nil
	}

	if cat.Len() == 0 {
		report.AddCheck(CheckResult{
			Category: categoryCatalog,
			Name:     "loaded",
			Status:   StatusWarn,
			Message:  "No migrations found",
			FixHint:  "Add files named NNN_description.sql",
		})
		return nil
	}

	defs := cat.Definitions()
	var noTx []string
	for _, def := range defs {
		if def.NoTransaction {
			noTx = append(noTx, def.Name)
		}
	}
	check := CheckResult{
		Category: categoryCatalog,
		Name:     "loaded",
		Status:   StatusPass,
		Message: fmt.Sprintf("%d migrations, sequence %d to %d",
			len(defs), defs[0].Sequence, defs[len(defs)-1].Sequence),
	}
	if len(noTx) > 0 {
		check.Details = "Outside a transaction: " + strings.Join(noTx, ", ")
	}
	report.AddCheck(check)

	dups := cat.Duplicates()
	if len(dups) == 0 {
		report.AddCheck(CheckResult{
			Category: categoryCatalog,
			Name:     "duplicates",
			Status:   StatusPass,
			Message:  "Sequence numbers are unique",
		})
		return nil
	}

	seqs := make([]int64, 0, len(dups))
	for seq := range dups {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	var lines []string
	for _, seq := range seqs {
		lines = append(lines, fmt.Sprintf("%d: %s", seq, strings.Join(dups[seq], ", ")))
	}
	report.AddCheck(CheckResult{
		Category: categoryCatalog,
		Name:     "duplicates",
		Status:   StatusWarn,
		Message:  fmt.Sprintf("%d sequence number(s) are shared by several files", len(dups)),
		Details:  strings.Join(lines, "\n"),
		FixHint:  "Files sharing a number run in name order; renumber them to make the order explicit",
	})
	return nil
}

func (d *Doctor) checkDatabase(ctx context.Context, report *Report) error {
	if d.db == nil {
		check := CheckResult{
			Category: categoryDatabase,
			Name:     "reachable",
			Status:   StatusFail,
			Message:  "No database configured",
			FixHint:  "Set --db, database.url or STRATA_DATABASE_* / DB_* variables",
		}
		if d.dbErr != nil {
			check.Details = d.dbErr.Error()
		}
		report.AddCheck(check)
		return nil
	}

	conn, err := d.db.Conn(ctx)
	if err == nil {
		defer func() { _ = conn.Close() }()
		err = conn.PingContext(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		report.AddCheck(CheckResult{
			Category: categoryDatabase,
			Name:     "reachable",
			Status:   StatusFail,
			Message:  "Cannot connect to the database",
			Details:  err.Error(),
			FixHint:  "Check host, port, credentials and sslmode",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: categoryDatabase,
		Name:     "reachable",
		Status:   StatusPass,
		Message:  "Database connection OK",
	})

	var serverVersion string
	if err := conn.QueryRowContext(ctx, `SHOW server_version`).Scan(&serverVersion); err != nil {
		report.AddCheck(CheckResult{
			Category: categoryDatabase,
			Name:     "server_version",
			Status:   StatusWarn,
			Message:  "Could not read the server version; is this PostgreSQL?",
			Details:  err.Error(),
		})
	} else {
		report.AddCheck(CheckResult{
			Category: categoryDatabase,
			Name:     "server_version",
			Status:   StatusPass,
			Message:  fmt.Sprintf("PostgreSQL %s", serverVersion),
		})
	}

	if d.locker == nil {
		return nil
	}
	release, err := d.locker.NoWait().Acquire(ctx, conn)
	switch {
	case err == nil:
		release()
		report.AddCheck(CheckResult{
			Category: categoryDatabase,
			Name:     "lock",
			Status:   StatusPass,
			Message:  fmt.Sprintf("Migration lock %d is free", d.locker.ID()),
		})
	case errors.Is(err, migration.ErrLockUnavailable) && ctx.Err() == nil:
		report.AddCheck(CheckResult{
			Category: categoryDatabase,
			Name:     "lock",
			Status:   StatusWarn,
			Message:  "Migration lock is not available",
			Details:  err.Error(),
			FixHint:  "Another migration may be running; wait for it or check pg_locks",
		})
	default:
		return err
	}
	return nil
}
