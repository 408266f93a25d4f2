package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/internal/testutil"
	"github.com/pthm/strata/internal/version"
)

func TestResolveString(t *testing.T) {
	assert.Equal(t, "flag", resolveString("flag", "config"))
	assert.Equal(t, "config", resolveString("", "config"))
	assert.Equal(t, "", resolveString("", ""))
}

func TestResolveBool(t *testing.T) {
	assert.True(t, resolveBool(false, true))
	assert.False(t, resolveBool(false, false))
}

func TestRedactConfig(t *testing.T) {
	in := cli.Config{Database: cli.DatabaseConfig{
		URL:      "postgres://app:hunter2@db:5432/app?sslmode=require",
		Password: "hunter2",
	}}

	out := redactConfig(in)
	assert.Equal(t, redacted, out.Database.Password)
	assert.NotContains(t, out.Database.URL, "hunter2")
	assert.Contains(t, out.Database.URL, "app:")
	assert.Equal(t, "hunter2", in.Database.Password, "input must not be modified")

	noPassword := redactConfig(cli.Config{Database: cli.DatabaseConfig{URL: "postgres://app@db/app"}})
	assert.Equal(t, "postgres://app@db/app", noPassword.Database.URL)
}

// execute runs the root command in an isolated repository root.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	return executeIn(t, newRepoRoot(t), args...)
}

func newRepoRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	return root
}

func executeIn(t *testing.T, root string, args ...string) error {
	t.Helper()
	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })

	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

// migrateArgs resets every migrate flag; cobra keeps flag values between runs.
func migrateArgs(dsn, dir string) []string {
	return []string{
		"migrate", "--quiet",
		"--db", dsn,
		"--dir", dir,
		"--range", "",
		"--dry-run=false",
		"--continue-on-error=false",
		"--no-wait=false",
		"--lock-key", "",
	}
}

func writeMigrationFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func relationExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var exists bool
	require.NoError(t, db.QueryRow(`SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists))
	return exists
}

func TestCommand_ListMissingDirectory(t *testing.T) {
	err := execute(t, "list", "--quiet", "--dir", filepath.Join(t.TempDir(), "nope"), "--range", "")
	require.Error(t, err)
	assert.Equal(t, cli.ExitSource, cli.ExitCode(err))
}

func TestCommand_ListBadRange(t *testing.T) {
	err := execute(t, "list", "--quiet", "--dir", t.TempDir(), "--range", "9-1")
	require.Error(t, err)
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(err))
}

func TestCommand_MigrateWithoutDatabaseConfig(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "DB_HOST", "DB_NAME", "DB_USER", "STRATA_DATABASE_URL"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("CREATE TABLE a (id int);"), 0o644))

	err := execute(t, "migrate", "--quiet", "--dir", dir, "--db", "", "--range", "", "--dry-run=false")
	require.Error(t, err)
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(err))
}

func TestCommand_VersionShort(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	require.NoError(t, execute(t, "version", "--short", "--check=false"))
	assert.Equal(t, version.Short()+"\n", out.String())
}

func TestCommand_ListUsesConfiguredMigrationsDir(t *testing.T) {
	root := newRepoRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "db", "migrations"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "db", "migrations", "001_a.sql"), []byte("SELECT 1;"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "strata.yaml"), []byte("migrations_dir: db/migrations\n"), 0o644))

	require.NoError(t, executeIn(t, root, "list", "--quiet", "--dir", "", "--range", ""))
}

func TestCommand_MigrateExitCodes(t *testing.T) {
	db, dsn := testutil.EmptyDB(t)

	t.Run("clean run exits 0", func(t *testing.T) {
		dir := writeMigrationFiles(t, map[string]string{
			"001_users.sql":    "CREATE TABLE users (id int PRIMARY KEY);",
			"002_add_name.sql": "ALTER TABLE users ADD COLUMN name text;",
		})

		err := execute(t, migrateArgs(dsn, dir)...)
		require.NoError(t, err)
		assert.Equal(t, cli.ExitSuccess, cli.ExitCode(err))
		assert.True(t, relationExists(t, db, "users"))

		// Every migration is now already applied.
		err = execute(t, migrateArgs(dsn, dir)...)
		require.NoError(t, err)
		assert.Equal(t, cli.ExitSuccess, cli.ExitCode(err))
	})

	t.Run("halted batch exits 1", func(t *testing.T) {
		dir := writeMigrationFiles(t, map[string]string{
			"001_one.sql":   "CREATE TABLE one (id int);",
			"002_two.sql":   "CREATE TABLEE two (id int);",
			"003_three.sql": "CREATE TABLE three (id int);",
		})

		err := execute(t, migrateArgs(dsn, dir)...)
		require.Error(t, err)
		assert.Equal(t, cli.ExitGeneral, cli.ExitCode(err))
		assert.Contains(t, err.Error(), "002_two.sql")
		assert.True(t, relationExists(t, db, "one"))
		assert.False(t, relationExists(t, db, "three"))
	})
}
