package migration

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Classifier decides what an executor failure means for the batch: either
// StatusSkippedAlreadyApplied (the migration's objects are already present)
// or StatusFailed.
type Classifier interface {
	Classify(err error) Status
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) Status

// Classify calls f(err).
func (f ClassifierFunc) Classify(err error) Status {
	return f(err)
}

// PostgreSQL SQLSTATE codes (class 42) raised when a DDL statement creates
// something that already exists.
const (
	pgDuplicateCursor            = "42P03"
	pgDuplicateDatabase          = "42P04"
	pgDuplicatePreparedStatement = "42P05"
	pgDuplicateSchema            = "42P06"
	pgDuplicateTable             = "42P07"
	pgDuplicateColumn            = "42701"
	pgDuplicateObject            = "42710"
	pgDuplicateAlias             = "42712"
	pgDuplicateFunction          = "42723"
)

var alreadyExistsCodes = map[string]bool{
	pgDuplicateCursor:            true,
	pgDuplicateDatabase:          true,
	pgDuplicatePreparedStatement: true,
	pgDuplicateSchema:            true,
	pgDuplicateTable:             true,
	pgDuplicateColumn:            true,
	pgDuplicateObject:            true,
	pgDuplicateAlias:             true,
	pgDuplicateFunction:          true,
}

// alreadyExistsPhrases are matched against the lowercased error message when
// the driver exposes no SQLSTATE (e.g. SQLite in tests).
var alreadyExistsPhrases = []string{
	"already exists",
	"duplicate column",
	"duplicate object",
	"duplicate table",
}

// DefaultClassifier matches on SQLSTATE when one is available and falls back
// to the error text otherwise. Anything it does not recognise is
// StatusFailed, so unknown errors always stop the batch.
type DefaultClassifier struct{}

// Classify implements Classifier.
func (DefaultClassifier) Classify(err error) Status {
	if err == nil {
		return StatusApplied
	}
	if IsAlreadyApplied(err) {
		return StatusSkippedAlreadyApplied
	}
	return StatusFailed
}

// IsAlreadyApplied reports whether err signals that the objects a migration
// creates are already present.
//
// A known SQLSTATE decides on its own: a non-duplicate code (say 42601
// syntax_error) is never reinterpreted from the message text.
func IsAlreadyApplied(err error) bool {
	if err == nil {
		return false
	}
	if code := SQLState(err); code != "" {
		return alreadyExistsCodes[code]
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range alreadyExistsPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// SQLState extracts the SQLSTATE code from a database error.
// Works with multiple drivers:
//   - pgx/pgconn: *pgconn.PgError
//   - lib/pq: *pq.Error
//   - anything in the chain exposing SQLState() string
//   - "SQLSTATE XXXXX" embedded in the message (last resort)
//
// Returns empty string if the error carries no SQLSTATE.
func SQLState(err error) string {
	if err == nil {
		return ""
	}

	var se *StatementError
	if errors.As(err, &se) && se.SQLState != "" {
		return se.SQLState
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	var stateErr interface{ SQLState() string }
	if errors.As(err, &stateErr) {
		return stateErr.SQLState()
	}

	// Format: "... (SQLSTATE 42P07)" or "SQLSTATE: 42P07"
	errStr := err.Error()
	for _, prefix := range []string{"SQLSTATE ", "SQLSTATE: "} {
		if idx := strings.Index(errStr, prefix); idx >= 0 {
			start := idx + len(prefix)
			if start+5 <= len(errStr) && isSQLState(errStr[start:start+5]) {
				return errStr[start : start+5]
			}
		}
	}

	return ""
}

func isSQLState(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
