package migration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

type stateError struct{ code string }

func (e stateError) Error() string    { return "driver error" }
func (e stateError) SQLState() string { return e.code }

func TestSQLState(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"pgconn", &pgconn.PgError{Code: "42P07", Message: `relation "t" already exists`}, "42P07"},
		{"wrapped pgconn", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42601"}), "42601"},
		{"lib/pq", &pq.Error{Code: "42701", Message: `column "email" of relation "users" already exists`}, "42701"},
		{"SQLState method", stateError{code: "42710"}, "42710"},
		{"message with SQLSTATE", errors.New(`ERROR: relation "t" already exists (SQLSTATE 42P07)`), "42P07"},
		{"message with SQLSTATE colon", errors.New("failed, SQLSTATE: 23505"), "23505"},
		{"malformed SQLSTATE in message", errors.New("SQLSTATE x!"), ""},
		{"statement error keeps code", &StatementError{Name: "1_a.sql", SQLState: "42P06", Err: errors.New("boom")}, "42P06"},
		{"no code", errors.New("table t already exists"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SQLState(tt.err))
		})
	}
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"duplicate table", &pgconn.PgError{Code: pgDuplicateTable}, StatusSkippedAlreadyApplied},
		{"duplicate column via lib/pq", &pq.Error{Code: pgDuplicateColumn}, StatusSkippedAlreadyApplied},
		{"duplicate object", &pgconn.PgError{Code: pgDuplicateObject}, StatusSkippedAlreadyApplied},
		{"duplicate schema", &pgconn.PgError{Code: pgDuplicateSchema}, StatusSkippedAlreadyApplied},
		{"duplicate function", &pgconn.PgError{Code: pgDuplicateFunction}, StatusSkippedAlreadyApplied},
		{"wrapped in statement error", &StatementError{Name: "1_a.sql", Err: &pgconn.PgError{Code: pgDuplicateTable}}, StatusSkippedAlreadyApplied},
		{"message fallback", errors.New("SQL logic error: table t already exists (1)"), StatusSkippedAlreadyApplied},
		{"message fallback is case insensitive", errors.New("Relation T Already Exists"), StatusSkippedAlreadyApplied},
		{"sqlite duplicate column", errors.New("SQL logic error: duplicate column name: email (1)"), StatusSkippedAlreadyApplied},
		{"syntax error", &pgconn.PgError{Code: "42601", Message: `syntax error at or near "CREAT"`}, StatusFailed},
		{"unique violation is not a skip", &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}, StatusFailed},
		{"code wins over message", &pgconn.PgError{Code: "42501", Message: "permission denied, object already exists"}, StatusFailed},
		{"undefined table", &pq.Error{Code: "42P01", Message: `relation "nope" does not exist`}, StatusFailed},
		{"unrecognised text", errors.New("connection reset by peer"), StatusFailed},
		{"context cancelled", context.Canceled, StatusFailed},
	}

	var c DefaultClassifier
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.err))
		})
	}
}

func TestClassifierFunc(t *testing.T) {
	c := ClassifierFunc(func(err error) Status { return StatusSkippedAlreadyApplied })
	assert.Equal(t, StatusSkippedAlreadyApplied, c.Classify(errors.New("anything")))
}
