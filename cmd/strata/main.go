// Package main provides the strata CLI for applying versioned SQL migrations
// to PostgreSQL.
//
// The CLI supports:
//   - migrate: Apply numbered .sql files in order, one transaction each
//   - list: Show the migrations that would run, without a database
//   - doctor: Run health checks on the migrations directory and database
//   - config show: Print the effective configuration
//   - version: Print version information
//
// Usage:
//
//	strata [flags] <command>
//
// Commands that touch the database (migrate, doctor) need --db, database.url
// in strata.yaml, or the STRATA_DATABASE_* / DB_* environment variables.
package main

func main() {
	Execute()
}
