package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"

	"go.uber.org/zap"
)

// Options controls a Migrate call.
type Options struct {
	// Range restricts the batch to sequence numbers inside it. Nil selects all.
	Range *Range

	// Logger receives one line per outcome. Defaults to zap.NewNop.
	Logger *zap.Logger

	// Locker, when set, is held for the whole batch on the batch connection.
	// Use NewAdvisoryLocker for PostgreSQL.
	Locker Locker

	// DryRun writes the selected migrations to the writer instead of applying
	// them. The database is not contacted.
	DryRun io.Writer

	// ContinueOnError keeps going after a failed migration.
	ContinueOnError bool

	// Classifier overrides DefaultClassifier.
	Classifier Classifier
}

// Migrate reads dir, selects definitions by opts.Range and applies them to db
// in order, one transaction per migration.
//
// The returned error covers failures before or around the batch: an
// unreadable source (ErrSourceUnavailable, ErrDefinitionUnreadable), no
// connection (ErrConnectionFailed) or a lock that cannot be taken
// (ErrLockUnavailable). Per-migration failures are reported in the Report,
// check Report.Failed.
//
// Example usage on application startup:
//
//	report, err := migration.Migrate(ctx, db, "migrations", migration.Options{
//	    Locker: migration.NewAdvisoryLocker(""),
//	})
//	if err != nil {
//	    log.Fatalf("migrating: %v", err)
//	}
//	if report.Failed() {
//	    log.Fatalf("migration failed: %v", report.FirstFailure().Err)
//	}
func Migrate(ctx context.Context, db *sql.DB, dir string, opts Options) (*Report, error) {
	return MigrateSource(ctx, db, NewDirSource(dir), opts)
}

// MigrateFS is Migrate over an io/fs filesystem such as an embed.FS.
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	report, err := migration.MigrateFS(ctx, db, migrations, "migrations", migration.Options{})
func MigrateFS(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, opts Options) (*Report, error) {
	return MigrateSource(ctx, db, NewEmbedSource(fsys, dir), opts)
}

// MigrateSource is Migrate over an explicit Source.
func MigrateSource(ctx context.Context, db *sql.DB, src *Source, opts Options) (*Report, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cat, err := LoadCatalog(ctx, src, opts.Range)
	if err != nil {
		return nil, err
	}
	if ignored, err := src.Excluded(); err == nil {
		for _, name := range ignored {
			log.Debug("Ignoring non-migration file", zap.String("name", name))
		}
	}
	log.Debug("Loaded migration catalog",
		zap.String("dir", src.Dir()),
		zap.Int("selected", cat.Len()),
		zap.Stringer("range", opts.Range))

	if opts.DryRun != nil {
		WritePlan(opts.DryRun, cat)
		return &Report{Selected: cat.Len()}, nil
	}

	if db == nil {
		return nil, fmt.Errorf("%w: no database handle", ErrConnectionFailed)
	}

	// One connection for the whole batch: the advisory lock is
	// session-scoped and migrations must see each other's effects.
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if opts.Locker != nil {
		release, err := opts.Locker.Acquire(ctx, conn)
		if err != nil {
			return nil, err
		}
		defer release()
		log.Debug("Acquired migration lock")
	}

	runnerOpts := []RunnerOption{WithLogger(log), WithClassifier(opts.Classifier)}
	if opts.ContinueOnError {
		runnerOpts = append(runnerOpts, WithContinueOnError())
	}
	return NewRunner(NewSQLExecutor(conn), runnerOpts...).Run(ctx, cat), nil
}

// WritePlan writes the SQL of every definition in cat, in application order.
func WritePlan(w io.Writer, cat *Catalog) {
	_, _ = fmt.Fprintf(w, "-- strata migration plan (dry-run)\n")
	_, _ = fmt.Fprintf(w, "-- Range: %s\n", cat.Selection())
	_, _ = fmt.Fprintf(w, "-- Migrations: %d\n\n", cat.Len())

	for _, def := range cat.Definitions() {
		mode := "transaction"
		if def.NoTransaction {
			mode = "no transaction"
		}
		_, _ = fmt.Fprintf(w, "-- ============================================================\n")
		_, _ = fmt.Fprintf(w, "-- %d: %s (%s)\n", def.Sequence, def.Name, mode)
		_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
		_, _ = fmt.Fprintf(w, "%s\n\n", def.Body)
	}
}
