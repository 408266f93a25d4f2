package cli

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/pthm/strata/pkg/migration"
)

const (
	maxWalkDepth = 25
)

// AppFs is the filesystem .env files are read from.
var AppFs = afero.NewOsFs()

// Config represents the strata configuration from strata.yaml.
type Config struct {
	// MigrationsDir is the default migrations directory for every command.
	MigrationsDir string `mapstructure:"migrations_dir"`

	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`

	// Per-command configuration
	Migrate MigrateConfig `mapstructure:"migrate"`
	Doctor  DoctorConfig  `mapstructure:"doctor"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MigrateConfig holds migrate command settings.
type MigrateConfig struct {
	Dir             string `mapstructure:"dir"`
	Range           string `mapstructure:"range"`
	DryRun          bool   `mapstructure:"dry_run"`
	Lock            bool   `mapstructure:"lock"`
	LockKey         string `mapstructure:"lock_key"`
	ContinueOnError bool   `mapstructure:"continue_on_error"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Dir     string `mapstructure:"dir"`
	Verbose bool   `mapstructure:"verbose"`
}

// Supported database/sql driver names.
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

// legacyEnv maps config keys to the unprefixed variables older deployments
// set. STRATA_* variables win over these.
var legacyEnv = map[string]string{
	"database.url":      "DATABASE_URL",
	"database.host":     "DB_HOST",
	"database.port":     "DB_PORT",
	"database.name":     "DB_NAME",
	"database.user":     "DB_USER",
	"database.password": "DB_PASSWORD",
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > .env files > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	// .env files sit next to the config file, or in cwd without one.
	envDir := "."
	if configPath != "" {
		envDir = filepath.Dir(configPath)
	}
	dotenv, err := loadDotenv(AppFs, envDir)
	if err != nil {
		return nil, configPath, err
	}
	applyEnv(dotenv)

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envName := "STRATA_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, configPath, fmt.Errorf("binding %s: %w", legacy, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	if mode, ok := legacySSLMode(); ok {
		v.Set("database.sslmode", mode)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("migrations_dir", "migrations")

	v.SetDefault("database.url", "")
	v.SetDefault("database.driver", DriverPgx)
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("migrate.dir", "")
	v.SetDefault("migrate.range", "")
	v.SetDefault("migrate.dry_run", false)
	v.SetDefault("migrate.lock", true)
	v.SetDefault("migrate.lock_key", migration.DefaultLockKey)
	v.SetDefault("migrate.continue_on_error", false)

	v.SetDefault("doctor.dir", "")
	v.SetDefault("doctor.verbose", false)
}

// legacySSLMode translates the DB_SSL toggle into an sslmode, unless
// STRATA_DATABASE_SSLMODE is set.
func legacySSLMode() (string, bool) {
	if _, ok := os.LookupEnv("STRATA_DATABASE_SSLMODE"); ok {
		return "", false
	}
	raw, ok := os.LookupEnv("DB_SSL")
	if !ok || raw == "" {
		return "", false
	}
	on, err := strconv.ParseBool(raw)
	if err != nil {
		// Not a boolean: treat it as an sslmode value.
		return raw, true
	}
	if on {
		return "require", true
	}
	return "disable", true
}

// loadDotenv reads .env.local and .env from dir. Keys in .env.local win.
// Missing files are not an error.
func loadDotenv(fsys afero.Fs, dir string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, name := range []string{".env", ".env.local"} {
		path := filepath.Join(dir, name)
		f, err := fsys.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		vars, err := godotenv.Parse(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		for k, val := range vars {
			merged[k] = val
		}
	}
	return merged, nil
}

// applyEnv exports vars that the process environment does not already set.
func applyEnv(vars map[string]string) {
	for k, val := range vars {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		_ = os.Setenv(k, val)
	}
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for strata.yaml or strata.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"strata.yaml", "strata.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// Validate checks the connection settings before any work starts. Every
// missing field is listed in a single ErrConfigurationInvalid error.
func (c *Config) Validate() error {
	db := c.Database
	var problems []string

	switch db.Driver {
	case DriverPgx, DriverPq:
	default:
		problems = append(problems, fmt.Sprintf("database.driver must be %q or %q, got %q", DriverPgx, DriverPq, db.Driver))
	}

	if db.URL == "" {
		if db.Host == "" {
			problems = append(problems, "database.host is required when database.url is not set")
		}
		if db.Name == "" {
			problems = append(problems, "database.name is required when database.url is not set")
		}
		if db.User == "" {
			problems = append(problems, "database.user is required when database.url is not set")
		}
		if db.Port <= 0 || db.Port > 65535 {
			problems = append(problems, fmt.Sprintf("database.port %d is out of range", db.Port))
		}
	}

	if c.Migrate.Range != "" {
		if _, err := migration.ParseRange(c.Migrate.Range); err != nil {
			problems = append(problems, fmt.Sprintf("migrate.range: %v", err))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", migration.ErrConfigurationInvalid, strings.Join(problems, "; "))
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("%w: database.host is required when database.url is not set", migration.ErrConfigurationInvalid)
	}
	if db.Name == "" {
		return "", fmt.Errorf("%w: database.name is required when database.url is not set", migration.ErrConfigurationInvalid)
	}
	if db.User == "" {
		return "", fmt.Errorf("%w: database.user is required when database.url is not set", migration.ErrConfigurationInvalid)
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// ResolvedDir returns the effective migrations directory for a command,
// with the command-specific override taking precedence over migrations_dir.
func (c *Config) ResolvedDir(commandDir string) string {
	if commandDir != "" {
		return commandDir
	}
	return c.MigrationsDir
}
