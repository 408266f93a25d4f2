package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Conn is the minimal database handle the executor needs.
// Implemented by *sql.DB and *sql.Conn.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Executor applies a single migration. A non-nil error means the migration
// left no effect behind (its transaction was rolled back) unless the
// definition opted out of transactions.
type Executor interface {
	Apply(ctx context.Context, def Definition) error
}

// SQLExecutor runs migration bodies over a database/sql connection.
type SQLExecutor struct {
	conn Conn
}

// NewSQLExecutor returns an executor bound to conn. Pass a *sql.Conn to pin
// the whole batch to one session.
func NewSQLExecutor(conn Conn) *SQLExecutor {
	return &SQLExecutor{conn: conn}
}

// Apply executes def.Body as one statement batch. Unless def.NoTransaction
// is set, the body runs inside its own transaction which is committed only
// when the body and the commit both succeed.
//
// Failures are returned as *StatementError.
func (e *SQLExecutor) Apply(ctx context.Context, def Definition) error {
	if def.NoTransaction {
		if _, err := e.conn.ExecContext(ctx, def.Body); err != nil {
			return statementError(def, err)
		}
		return nil
	}

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return statementError(def, fmt.Errorf("starting transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, def.Body); err != nil {
		return statementError(def, err)
	}

	if err := tx.Commit(); err != nil {
		return statementError(def, fmt.Errorf("committing: %w", err))
	}
	return nil
}

func statementError(def Definition, err error) error {
	var se *StatementError
	if errors.As(err, &se) {
		return err
	}
	return &StatementError{
		Name:     def.Name,
		SQLState: SQLState(err),
		Err:      err,
	}
}
