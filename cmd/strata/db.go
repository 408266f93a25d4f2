package main

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/pthm/strata/internal/cli"
)

// resolveDSN validates the configuration and returns the driver name and
// DSN to open. A --db flag replaces database.url.
func resolveDSN(flagDSN string) (driver, dsn string, err error) {
	if flagDSN != "" {
		cfg.Database.URL = flagDSN
	}
	if err := cfg.Validate(); err != nil {
		return "", "", cli.ConfigError("database configuration", err)
	}
	dsn, err = cfg.DSN()
	if err != nil {
		return "", "", cli.ConfigError("database configuration", err)
	}
	return cfg.Database.Driver, dsn, nil
}

// openDB opens a pool with the configured driver. Connection errors
// surface on first use.
func openDB(flagDSN string) (*sql.DB, error) {
	driver, dsn, err := resolveDSN(flagDSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, cli.DBConnectError("opening database", err)
	}
	// Migrations hold one connection; doctor may open a second for its checks.
	db.SetMaxOpenConns(2)
	return db, nil
}
