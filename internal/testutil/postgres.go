// Package testutil provides throwaway PostgreSQL databases for integration tests.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	serverOnce sync.Once
	serverDSN  string
	serverErr  error
)

// ensureServer returns an admin DSN for a running PostgreSQL server.
// DATABASE_URL wins; otherwise a single container is started for the
// whole test binary and left for ryuk to reap.
func ensureServer() (string, error) {
	serverOnce.Do(func() {
		if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
			serverDSN = dsn
			return
		}

		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			serverErr = fmt.Errorf("starting PostgreSQL container: %w", err)
			return
		}

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			serverErr = fmt.Errorf("getting PostgreSQL connection string: %w", err)
			return
		}
		serverDSN = dsn
	})
	return serverDSN, serverErr
}

// EmptyDB returns a connection to a new, empty database. The test is
// skipped under -short or when no server can be started. The database is
// dropped when the test completes.
func EmptyDB(tb testing.TB) (*sql.DB, string) {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping PostgreSQL integration test in short mode")
	}

	adminDSN, err := ensureServer()
	if err != nil {
		tb.Skipf("PostgreSQL unavailable: %v", err)
	}

	name := uniqueDBName("strata")
	require.NoError(tb, execAdmin(context.Background(), adminDSN, "CREATE DATABASE "+name))

	dsn, err := replaceDBName(adminDSN, name)
	require.NoError(tb, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(tb, err)
	require.NoError(tb, db.Ping(), "failed to ping test database")

	tb.Cleanup(func() {
		_ = db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = execAdmin(ctx, adminDSN, "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)")
	})
	return db, dsn
}

func execAdmin(ctx context.Context, adminDSN, stmt string) error {
	db, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(ctx, stmt)
	return err
}

func uniqueDBName(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}

// replaceDBName swaps the database in a postgres:// URL.
func replaceDBName(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parsing DSN: %w", err)
	}
	u.Path = "/" + name
	return u.String(), nil
}
