package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aqasim81/dbrunner/internal/script"
)

// Default values for configuration fields.
const (
	DefaultDriver            = DriverPostgres
	DefaultMigrationsDir     = "./migrations"
	DefaultSeedsDir          = "./seeds"
	DefaultLockKey           = int64(123456789)
	DefaultLockTimeout       = 60 * time.Second
	DefaultLockRetryInterval = 5 * time.Second
	DefaultExecutionTimeout  = 10 * time.Minute
	DefaultTargetPGVersion   = 14
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Lock retry strategies.
const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// Transaction modes.
const (
	TxPerScript = "per-script"
	TxPerRun    = "per-run"
)

// Checksum policies for applied scripts whose file content changed.
const (
	ChecksumWarn = "warn"
	ChecksumFail = "fail"
)

// Preflight analysis modes.
const (
	PreflightOff   = "off"
	PreflightWarn  = "warn"
	PreflightBlock = "block"
)

// ErrInvalidConfig indicates a configuration value failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the runner configuration loaded from file, environment, and flags.
// It is validated once and treated as immutable afterwards.
type Config struct {
	Enabled        bool
	Driver         string
	DatabaseURL    string
	CreateDatabase bool

	MigrationsDir string
	SeedsDir      string
	Environment   string

	LockKey           int64
	LockTimeout       time.Duration
	LockRetryInterval time.Duration
	LockRetryStrategy string

	ExecutionTimeout time.Duration
	StatementTimeout time.Duration
	DDLLockTimeout   time.Duration

	TransactionMode string
	ChecksumPolicy  string
	Preflight       string
	TargetPGVersion int

	LogLevel  string
	LogFormat string
}

// yamlConfig is the raw YAML file representation with string durations.
type yamlConfig struct {
	Enabled           *bool  `yaml:"enabled"`
	Driver            string `yaml:"driver"`
	DatabaseURL       string `yaml:"database_url"`
	CreateDatabase    *bool  `yaml:"create_database"`
	MigrationsDir     string `yaml:"migrations_dir"`
	SeedsDir          string `yaml:"seeds_dir"`
	Environment       string `yaml:"environment"`
	LockKey           *int64 `yaml:"lock_key"`
	LockTimeout       string `yaml:"lock_timeout"`
	LockRetryInterval string `yaml:"lock_retry_interval"`
	LockRetryStrategy string `yaml:"lock_retry_strategy"`
	ExecutionTimeout  string `yaml:"execution_timeout"`
	StatementTimeout  string `yaml:"statement_timeout"`
	DDLLockTimeout    string `yaml:"ddl_lock_timeout"`
	TransactionMode   string `yaml:"transaction_mode"`
	ChecksumPolicy    string `yaml:"checksum_policy"`
	Preflight         string `yaml:"preflight"`
	TargetPGVersion   int    `yaml:"target_pg_version"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
}

// New returns a Config populated with default values.
func New() *Config {
	return &Config{
		Enabled:           true,
		Driver:            DefaultDriver,
		MigrationsDir:     DefaultMigrationsDir,
		SeedsDir:          DefaultSeedsDir,
		LockKey:           DefaultLockKey,
		LockTimeout:       DefaultLockTimeout,
		LockRetryInterval: DefaultLockRetryInterval,
		LockRetryStrategy: RetryFixed,
		ExecutionTimeout:  DefaultExecutionTimeout,
		TransactionMode:   TxPerScript,
		ChecksumPolicy:    ChecksumWarn,
		Preflight:         PreflightOff,
		TargetPGVersion:   DefaultTargetPGVersion,
		LogLevel:          DefaultLogLevel,
		LogFormat:         DefaultLogFormat,
	}
}

// Load reads a YAML configuration file and returns a Config.
// If allowMissing is true and the file does not exist, defaults are returned.
func Load(path string, allowMissing bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return New(), nil
		}

		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return fromYAML(&raw)
}

// fromYAML converts the raw YAML representation to a Config with defaults applied.
func fromYAML(raw *yamlConfig) (*Config, error) {
	cfg := New()

	if raw.Enabled != nil {
		cfg.Enabled = *raw.Enabled
	}

	if raw.CreateDatabase != nil {
		cfg.CreateDatabase = *raw.CreateDatabase
	}

	if raw.LockKey != nil {
		cfg.LockKey = *raw.LockKey
	}

	if raw.TargetPGVersion != 0 {
		cfg.TargetPGVersion = raw.TargetPGVersion
	}

	overrideString(&cfg.Driver, raw.Driver)
	overrideString(&cfg.DatabaseURL, raw.DatabaseURL)
	overrideString(&cfg.MigrationsDir, raw.MigrationsDir)
	overrideString(&cfg.SeedsDir, raw.SeedsDir)
	overrideString(&cfg.Environment, raw.Environment)
	overrideString(&cfg.LockRetryStrategy, raw.LockRetryStrategy)
	overrideString(&cfg.TransactionMode, raw.TransactionMode)
	overrideString(&cfg.ChecksumPolicy, raw.ChecksumPolicy)
	overrideString(&cfg.Preflight, raw.Preflight)
	overrideString(&cfg.LogLevel, raw.LogLevel)
	overrideString(&cfg.LogFormat, raw.LogFormat)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"lock_timeout", raw.LockTimeout, &cfg.LockTimeout},
		{"lock_retry_interval", raw.LockRetryInterval, &cfg.LockRetryInterval},
		{"execution_timeout", raw.ExecutionTimeout, &cfg.ExecutionTimeout},
		{"statement_timeout", raw.StatementTimeout, &cfg.StatementTimeout},
		{"ddl_lock_timeout", raw.DDLLockTimeout, &cfg.DDLLockTimeout},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}

		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", d.key, d.raw, err)
		}

		*d.dst = v
	}

	return cfg, nil
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// MergeEnv overrides config fields from MIGRATE_* environment variables.
// Unparseable values are ignored and the previous value is kept.
func MergeEnv(cfg *Config) {
	if v := os.Getenv("MIGRATE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}

	if v := os.Getenv("MIGRATE_DRIVER"); v != "" {
		cfg.Driver = v
	}

	if v := os.Getenv("MIGRATE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	if v := os.Getenv("MIGRATE_MIGRATIONS_DIR"); v != "" {
		cfg.MigrationsDir = v
	}

	if v := os.Getenv("MIGRATE_SEEDS_DIR"); v != "" {
		cfg.SeedsDir = v
	}

	if v, ok := os.LookupEnv("MIGRATE_ENVIRONMENT"); ok {
		cfg.Environment = v
	}

	if v := os.Getenv("MIGRATE_LOCK_KEY"); v != "" {
		if k, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.LockKey = k
		}
	}

	envDuration("MIGRATE_LOCK_TIMEOUT", &cfg.LockTimeout)
	envDuration("MIGRATE_LOCK_RETRY_INTERVAL", &cfg.LockRetryInterval)
	envDuration("MIGRATE_EXECUTION_TIMEOUT", &cfg.ExecutionTimeout)
	envDuration("MIGRATE_STATEMENT_TIMEOUT", &cfg.StatementTimeout)
	envDuration("MIGRATE_DDL_LOCK_TIMEOUT", &cfg.DDLLockTimeout)

	envString("MIGRATE_LOCK_RETRY_STRATEGY", &cfg.LockRetryStrategy)
	envString("MIGRATE_TRANSACTION_MODE", &cfg.TransactionMode)
	envString("MIGRATE_CHECKSUM_POLICY", &cfg.ChecksumPolicy)
	envString("MIGRATE_PREFLIGHT", &cfg.Preflight)
	envString("MIGRATE_LOG_LEVEL", &cfg.LogLevel)
	envString("MIGRATE_LOG_FORMAT", &cfg.LogFormat)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks field values and combinations. It does not require a
// database URL when the runner is disabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	switch c.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Driver))
	}

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}

	if c.Environment != "" {
		if err := script.ValidateEnvironment(c.Environment); err != nil {
			errs = append(errs, err)
		}
	}

	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("lock_timeout must be positive"))
	}

	if c.LockRetryInterval <= 0 {
		errs = append(errs, errors.New("lock_retry_interval must be positive"))
	}

	if c.ExecutionTimeout <= 0 {
		errs = append(errs, errors.New("execution_timeout must be positive"))
	}

	if c.StatementTimeout < 0 || c.DDLLockTimeout < 0 {
		errs = append(errs, errors.New("statement_timeout and ddl_lock_timeout must be >= 0"))
	}

	errs = appendOneOf(errs, "lock_retry_strategy", c.LockRetryStrategy, RetryFixed, RetryExponential)
	errs = appendOneOf(errs, "transaction_mode", c.TransactionMode, TxPerScript, TxPerRun)
	errs = appendOneOf(errs, "checksum_policy", c.ChecksumPolicy, ChecksumWarn, ChecksumFail)
	errs = appendOneOf(errs, "preflight", c.Preflight, PreflightOff, PreflightWarn, PreflightBlock)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

func appendOneOf(errs []error, key, value string, allowed ...string) []error {
	for _, a := range allowed {
		if value == a {
			return errs
		}
	}

	return append(errs, fmt.Errorf("%s must be one of %v, got %q", key, allowed, value))
}
