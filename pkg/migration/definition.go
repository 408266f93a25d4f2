// Package migration applies numbered SQL migration files to PostgreSQL.
//
// A migrations directory holds files named with a leading sequence number,
// e.g. 001_create_users.sql, 002_add_email.sql. Each run reads the
// directory fresh, orders the files by sequence number, optionally narrows
// them to an inclusive range, and applies each one in its own transaction.
//
// There is no history table. Re-running a batch is safe because failures
// that mean "this object already exists" are classified as
// StatusSkippedAlreadyApplied and the batch moves on; any other failure
// halts the batch.
//
// Typical use:
//
//	report, err := migration.Migrate(ctx, db, "migrations", migration.Options{})
//	if err != nil {
//	    log.Fatalf("migrating: %v", err)
//	}
//	if report.Failed() {
//	    os.Exit(1)
//	}
package migration

import (
	"bufio"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
)

// NoTransactionDirective, placed in the leading comment block of a migration,
// makes the executor run that migration outside a transaction. Needed for
// statements Postgres refuses inside a transaction block, such as
// CREATE INDEX CONCURRENTLY.
const NoTransactionDirective = "strata:no-transaction"

// Definition is one schema-change unit loaded from the source.
type Definition struct {
	// Sequence is parsed from Name and determines application order.
	Sequence int64

	// Name is the file name, used in logs and reports.
	Name string

	// Body is the SQL text, executed as-is.
	Body string

	// NoTransaction is set when Body carries NoTransactionDirective.
	NoTransaction bool
}

// NewDefinition builds a Definition from a raw entry. ok is false when the
// name does not follow the numeric-prefix convention.
func NewDefinition(name, body string) (def Definition, ok bool) {
	seq, ok := ParseSequence(name)
	if !ok {
		return Definition{}, false
	}
	return Definition{
		Sequence:      seq,
		Name:          name,
		Body:          body,
		NoTransaction: hasNoTransactionDirective(body),
	}, true
}

// ParseSequence extracts the sequence number from a migration name.
//
// The name must start with one or more ASCII digits followed by '_', '-',
// '.' or the end of the name. "001_init.sql" yields 1, "20240101-x.sql"
// yields 20240101. Names such as "foo.sql", "v1_init.sql" or "1a_x.sql"
// yield ok=false; such files are not migrations. A prefix too large for
// int64 also yields ok=false; Source rejects such files with an error.
func ParseSequence(name string) (seq int64, ok bool) {
	digits, ok := sequencePrefix(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// sequencePrefix returns the leading digits of name when they are followed
// by a delimiter or the end of the name.
func sequencePrefix(name string) (string, bool) {
	name = path.Base(name)

	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return "", false
	}
	if end < len(name) {
		switch name[end] {
		case '_', '-', '.':
		default:
			return "", false
		}
	}
	return name[:end], true
}

// hasNoTransactionDirective reports whether the leading comment block of body
// contains NoTransactionDirective. Scanning stops at the first line that is
// neither blank nor a "--" comment.
func hasNoTransactionDirective(body string) bool {
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			return false
		}
		if strings.TrimSpace(strings.TrimPrefix(line, "--")) == NoTransactionDirective {
			return true
		}
	}
	return false
}

// Range is an inclusive bound on Definition.Sequence.
type Range struct {
	Min int64
	Max int64
}

// Contains reports whether seq lies within the range, bounds included.
// A nil Range contains everything.
func (r *Range) Contains(seq int64) bool {
	if r == nil {
		return true
	}
	return seq >= r.Min && seq <= r.Max
}

func (r *Range) String() string {
	if r == nil {
		return "all"
	}
	switch {
	case r.Min == r.Max:
		return strconv.FormatInt(r.Min, 10)
	case r.Max == math.MaxInt64:
		return fmt.Sprintf("%d-", r.Min)
	default:
		return fmt.Sprintf("%d-%d", r.Min, r.Max)
	}
}

// NewRange returns the inclusive range [lo, hi].
func NewRange(lo, hi int64) (*Range, error) {
	if lo < 0 || hi < 0 {
		return nil, fmt.Errorf("%w: range bounds must be non-negative, got [%d,%d]", ErrConfigurationInvalid, lo, hi)
	}
	if lo > hi {
		return nil, fmt.Errorf("%w: range minimum %d is greater than maximum %d", ErrConfigurationInvalid, lo, hi)
	}
	return &Range{Min: lo, Max: hi}, nil
}

// ParseRange parses a selection expression:
//
//	""       all definitions (nil range)
//	"5"      exactly 5
//	"3-7"    3 through 7 ("3..7" and "3:7" are accepted too)
//	"3-"     3 and above
//	"-7"     up to 7
func ParseRange(s string) (*Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	lo, hi, found := cutRange(s)
	if !found {
		n, err := parseBound(s)
		if err != nil {
			return nil, err
		}
		return NewRange(n, n)
	}

	if lo == "" && hi == "" {
		return nil, fmt.Errorf("%w: empty range %q", ErrConfigurationInvalid, s)
	}

	var (
		lower int64
		upper int64 = math.MaxInt64
		err   error
	)
	if lo != "" {
		if lower, err = parseBound(lo); err != nil {
			return nil, err
		}
	}
	if hi != "" {
		if upper, err = parseBound(hi); err != nil {
			return nil, err
		}
	}
	return NewRange(lower, upper)
}

func cutRange(s string) (lo, hi string, found bool) {
	for _, sep := range []string{"..", "-", ":"} {
		if before, after, ok := strings.Cut(s, sep); ok {
			return strings.TrimSpace(before), strings.TrimSpace(after), true
		}
	}
	return "", "", false
}

func parseBound(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid range bound %q", ErrConfigurationInvalid, s)
	}
	return n, nil
}
