package migration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Runner drives a catalog through an Executor, one definition at a time.
type Runner struct {
	exec            Executor
	classifier      Classifier
	log             *zap.Logger
	continueOnError bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger outcomes are written to. Defaults to zap.NewNop.
func WithLogger(log *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c Classifier) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.classifier = c
		}
	}
}

// WithContinueOnError keeps the batch going after a StatusFailed outcome.
// The report is still marked failed. Off by default.
func WithContinueOnError() RunnerOption {
	return func(r *Runner) {
		r.continueOnError = true
	}
}

// NewRunner creates a runner that applies definitions with exec.
func NewRunner(exec Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		exec:       exec,
		classifier: DefaultClassifier{},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run attempts every definition of cat in order and returns the report.
//
// Each definition is attempted at most once. A failure the classifier
// recognises as "already applied" is recorded and the batch continues;
// any other failure is recorded and the batch halts, leaving the remaining
// definitions without an outcome. Migrations committed before the halt stay
// committed.
//
// If ctx is done before a definition starts, that definition is recorded
// as failed with the context error and the batch halts.
func (r *Runner) Run(ctx context.Context, cat *Catalog) *Report {
	defs := cat.Definitions()
	report := &Report{Selected: len(defs)}

	dups := cat.Duplicates()
	seqs := make([]int64, 0, len(dups))
	for seq := range dups {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		r.log.Warn("Duplicate migration sequence number",
			zap.Int64("sequence", seq),
			zap.Strings("migrations", dups[seq]))
	}

	if len(defs) == 0 {
		r.log.Info("No migrations selected", zap.Stringer("range", cat.Selection()))
		return report
	}

	r.log.Info("Applying migrations",
		zap.Int("migration_count", len(defs)),
		zap.Stringer("range", cat.Selection()))

	for _, def := range defs {
		outcome := r.apply(ctx, def)
		report.add(outcome)
		r.logOutcome(outcome)

		if outcome.Status == StatusFailed && !r.continueOnError {
			report.Halted = true
			break
		}
	}

	applied, skipped, failed, notAttempted := report.Counts()
	r.log.Info("Migration batch finished",
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Int("not_attempted", notAttempted),
		zap.Bool("halted", report.Halted))

	return report
}

func (r *Runner) apply(ctx context.Context, def Definition) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{
			Definition: def,
			Status:     StatusFailed,
			Err:        fmt.Errorf("not started: %w", err),
		}
	}

	r.log.Debug("Executing migration",
		zap.String("migration_name", def.Name),
		zap.Bool("transaction", !def.NoTransaction))

	start := time.Now()
	err := r.exec.Apply(ctx, def)
	outcome := Outcome{
		Definition: def,
		Status:     StatusApplied,
		Duration:   time.Since(start),
	}
	if err == nil {
		return outcome
	}

	// Only an explicit skip is honoured; a classifier cannot turn a failure
	// into success.
	if r.classifier.Classify(err) == StatusSkippedAlreadyApplied {
		outcome.Status = StatusSkippedAlreadyApplied
		r.log.Debug("Migration already applied",
			zap.String("migration_name", def.Name),
			zap.String("reason", err.Error()))
		return outcome
	}
	outcome.Status = StatusFailed
	outcome.Err = err
	return outcome
}

func (r *Runner) logOutcome(o Outcome) {
	fields := []zap.Field{
		zap.String("status", o.Status.String()),
		zap.Int64("sequence", o.Definition.Sequence),
		zap.String("migration_name", o.Definition.Name),
		zap.Duration("duration", o.Duration),
	}
	switch o.Status {
	case StatusFailed:
		fields = append(fields, zap.Error(o.Err))
		if code := SQLState(o.Err); code != "" {
			fields = append(fields, zap.String("sqlstate", code))
		}
		r.log.Error(o.Status.Symbol()+" Migration failed", fields...)
	case StatusSkippedAlreadyApplied:
		r.log.Info(o.Status.Symbol()+" Migration skipped, already applied", fields...)
	default:
		r.log.Info(o.Status.Symbol()+" Migration applied", fields...)
	}
}
