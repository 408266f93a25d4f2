package migration

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// Status is the terminal state of one definition within a batch.
type Status int

const (
	// StatusPending means the definition has not been attempted.
	StatusPending Status = iota
	// StatusApplied means the body ran and was committed.
	StatusApplied
	// StatusSkippedAlreadyApplied means the body failed with an
	// "already exists" error and the batch continued.
	StatusSkippedAlreadyApplied
	// StatusFailed means the body failed with any other error; the batch halts.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApplied:
		return "applied"
	case StatusSkippedAlreadyApplied:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Symbol returns a status marker for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusApplied:
		return "✓"
	case StatusSkippedAlreadyApplied:
		return "↷"
	case StatusFailed:
		return "✗"
	default:
		return "·"
	}
}

func (s Status) colorize(text string) string {
	switch s {
	case StatusApplied:
		return color.GreenString(text)
	case StatusSkippedAlreadyApplied:
		return color.YellowString(text)
	case StatusFailed:
		return color.RedString(text)
	default:
		return text
	}
}

// Outcome records what happened to one definition. Outcomes are never
// modified after the runner appends them to a Report.
type Outcome struct {
	Definition Definition
	Status     Status

	// Err is the executor failure. Set only when Status is StatusFailed.
	Err error

	Duration time.Duration
}

// Report is the ordered result of one batch.
type Report struct {
	// Outcomes holds one entry per attempted definition, in order.
	Outcomes []Outcome

	// Halted is true when a failed outcome stopped the batch, even if the
	// failing definition was the last one selected.
	Halted bool

	// Started is true once the runner attempted at least one definition.
	Started bool

	// Selected is the number of definitions in the catalog handed to the runner.
	Selected int
}

func (r *Report) add(o Outcome) {
	r.Started = true
	r.Outcomes = append(r.Outcomes, o)
}

// Failed reports whether any outcome is StatusFailed.
func (r *Report) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			return true
		}
	}
	return false
}

// FirstFailure returns the first failed outcome, or nil.
func (r *Report) FirstFailure() *Outcome {
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == StatusFailed {
			return &r.Outcomes[i]
		}
	}
	return nil
}

// Counts returns the number of outcomes per status, plus the number of
// selected definitions that were never attempted.
func (r *Report) Counts() (applied, skipped, failed, notAttempted int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusApplied:
			applied++
		case StatusSkippedAlreadyApplied:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	notAttempted = r.Selected - len(r.Outcomes)
	if notAttempted < 0 {
		notAttempted = 0
	}
	return applied, skipped, failed, notAttempted
}

// Summary describes the batch in one line: fully applied, halted, or
// never started.
func (r *Report) Summary() string {
	applied, skipped, failed, notAttempted := r.Counts()
	switch {
	case !r.Started:
		return "No migrations attempted."
	case r.Halted:
		return fmt.Sprintf("Batch halted: %d applied, %d skipped, %d failed, %d not attempted.",
			applied, skipped, failed, notAttempted)
	default:
		return fmt.Sprintf("Batch complete: %d applied, %d skipped, %d failed.",
			applied, skipped, failed)
	}
}

// Print writes one line per outcome followed by the summary.
func (r *Report) Print(w io.Writer) {
	for _, o := range r.Outcomes {
		marker := o.Status.colorize(fmt.Sprintf("%s %-7s", o.Status.Symbol(), o.Status))
		_, _ = fmt.Fprintf(w, "  %s %s", marker, o.Definition.Name)
		if o.Duration > 0 {
			_, _ = fmt.Fprintf(w, " (%s)", o.Duration.Round(time.Millisecond))
		}
		_, _ = fmt.Fprintln(w)
		if o.Err != nil {
			_, _ = fmt.Fprintf(w, "      %v\n", o.Err)
		}
	}
	_, _ = fmt.Fprintf(w, "\n%s\n", r.Summary())
}
