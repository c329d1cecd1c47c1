package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Deployment profiles. The profile selects pool defaults and whether a
// failed startup connectivity check is fatal.
const (
	ProfileDevelopment = "development"
	ProfileTest        = "test"
	ProfileProduction  = "production"
)

// Default values shared by every profile.
const (
	DefaultPort                = 5000
	DefaultDBHost              = "localhost"
	DefaultDBPort              = 5432
	DefaultDBUser              = "postgres"
	DefaultDBPassword          = "postgres"
	DefaultAcquireTimeout      = 5 * time.Second
	DefaultBatchAcquireTimeout = 60 * time.Second
	DefaultIdleTimeout         = 30 * time.Second
	DefaultLockTimeout         = 5 * time.Second
	DefaultStatementTimeout    = 30 * time.Second
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConfigFile          = "jokeserver.yml"
)

// Config holds the application configuration loaded from file, environment, and flags.
type Config struct {
	Profile string

	Port int `env:"PORT"`

	// DatabaseURL, when set, wins over the discrete DB_* settings.
	DatabaseURL string `env:"DATABASE_URL"`

	Database Database

	// LockTimeout and StatementTimeout bound each migration transaction.
	LockTimeout      time.Duration `env:"MIGRATE_LOCK_TIMEOUT"`
	StatementTimeout time.Duration `env:"MIGRATE_STATEMENT_TIMEOUT"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
}

// Database holds connection and pool settings for the PostgreSQL store.
type Database struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT"`
	Name     string `env:"DB_NAME"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	SSL      bool   `env:"DB_SSL"`

	PoolMin int `env:"DB_POOL_MIN"`
	PoolMax int `env:"DB_POOL_MAX"`

	// AcquireTimeout bounds interactive callers (HTTP requests, health checks).
	AcquireTimeout time.Duration `env:"DB_ACQUIRE_TIMEOUT"`
	// BatchAcquireTimeout bounds migrations and seeding.
	BatchAcquireTimeout time.Duration `env:"DB_BATCH_ACQUIRE_TIMEOUT"`
	IdleTimeout         time.Duration `env:"DB_IDLE_TIMEOUT"`
}

// yamlConfig is the raw YAML file representation with string durations.
type yamlConfig struct {
	Port             int          `yaml:"port"`
	DatabaseURL      string       `yaml:"database_url"`
	Database         yamlDatabase `yaml:"database"`
	LockTimeout      string       `yaml:"lock_timeout"`
	StatementTimeout string       `yaml:"statement_timeout"`
	LogLevel         string       `yaml:"log_level"`
	LogFormat        string       `yaml:"log_format"`
}

type yamlDatabase struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	Name                string `yaml:"name"`
	User                string `yaml:"user"`
	Password            string `yaml:"password"`
	SSL                 *bool  `yaml:"ssl"`
	PoolMin             *int   `yaml:"pool_min"`
	PoolMax             int    `yaml:"pool_max"`
	AcquireTimeout      string `yaml:"acquire_timeout"`
	BatchAcquireTimeout string `yaml:"batch_acquire_timeout"`
	IdleTimeout         string `yaml:"idle_timeout"`
}

// New returns a Config populated with the development profile defaults.
func New() *Config {
	cfg, _ := ForProfile(ProfileDevelopment)

	return cfg
}

// ForProfile returns a Config populated with the defaults for the named profile.
func ForProfile(profile string) (*Config, error) {
	cfg := &Config{
		Profile:          profile,
		Port:             DefaultPort,
		LockTimeout:      DefaultLockTimeout,
		StatementTimeout: DefaultStatementTimeout,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
		Database: Database{
			Port:                DefaultDBPort,
			AcquireTimeout:      DefaultAcquireTimeout,
			BatchAcquireTimeout: DefaultBatchAcquireTimeout,
			IdleTimeout:         DefaultIdleTimeout,
		},
	}

	switch profile {
	case ProfileDevelopment:
		cfg.Database.Host = DefaultDBHost
		cfg.Database.Name = "jokes_db"
		cfg.Database.User = DefaultDBUser
		cfg.Database.Password = DefaultDBPassword
		cfg.Database.PoolMin = 2
		cfg.Database.PoolMax = 10
	case ProfileTest:
		cfg.Database.Host = DefaultDBHost
		cfg.Database.Name = "jokes_db_test"
		cfg.Database.User = DefaultDBUser
		cfg.Database.Password = DefaultDBPassword
		cfg.Database.PoolMin = 1
		cfg.Database.PoolMax = 5
	case ProfileProduction:
		// Production has no connection defaults; DB_HOST, DB_NAME and
		// DB_USER must come from the environment or the config file.
		cfg.Database.PoolMin = 2
		cfg.Database.PoolMax = 10
		cfg.Database.IdleTimeout = 10 * time.Minute
		cfg.LogFormat = "json"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}

	return cfg, nil
}

// ProfileFromEnv returns the profile named by APP_ENV, or development when unset.
func ProfileFromEnv() string {
	if v := os.Getenv("APP_ENV"); v != "" {
		return v
	}

	return ProfileDevelopment
}

// Load reads a YAML configuration file on top of the profile defaults.
// If allowMissing is true and the file does not exist, defaults are returned.
func Load(path, profile string, allowMissing bool) (*Config, error) {
	cfg, err := ForProfile(profile)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return cfg, nil
		}

		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := applyYAML(cfg, &raw); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyYAML overlays the non-zero fields of the raw YAML representation.
func applyYAML(cfg *Config, raw *yamlConfig) error {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}

	if raw.DatabaseURL != "" {
		cfg.DatabaseURL = raw.DatabaseURL
	}

	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}

	if raw.LogFormat != "" {
		cfg.LogFormat = raw.LogFormat
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"lock_timeout", raw.LockTimeout, &cfg.LockTimeout},
		{"statement_timeout", raw.StatementTimeout, &cfg.StatementTimeout},
		{"database.acquire_timeout", raw.Database.AcquireTimeout, &cfg.Database.AcquireTimeout},
		{"database.batch_acquire_timeout", raw.Database.BatchAcquireTimeout, &cfg.Database.BatchAcquireTimeout},
		{"database.idle_timeout", raw.Database.IdleTimeout, &cfg.Database.IdleTimeout},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}

		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.key, d.raw, err)
		}

		*d.dst = parsed
	}

	db := &cfg.Database
	rdb := &raw.Database

	if rdb.Host != "" {
		db.Host = rdb.Host
	}

	if rdb.Port != 0 {
		db.Port = rdb.Port
	}

	if rdb.Name != "" {
		db.Name = rdb.Name
	}

	if rdb.User != "" {
		db.User = rdb.User
	}

	if rdb.Password != "" {
		db.Password = rdb.Password
	}

	if rdb.SSL != nil {
		db.SSL = *rdb.SSL
	}

	if rdb.PoolMin != nil {
		db.PoolMin = *rdb.PoolMin
	}

	if rdb.PoolMax != 0 {
		db.PoolMax = rdb.PoolMax
	}

	return nil
}

// MergeEnv overrides config fields from environment variables. Unset
// variables leave the current value untouched.
func MergeEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}

// Strict reports whether a failed startup connectivity check should stop
// the process. Only development is strict; test and production keep
// running so the pool can reconnect later.
func (c *Config) Strict() bool {
	return c.Profile == ProfileDevelopment
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := ForProfile(c.Profile); err != nil {
		return err
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSetting, c.Port)
	}

	db := c.Database

	if c.DatabaseURL == "" {
		missing := []struct{ name, value string }{
			{"DB_HOST", db.Host},
			{"DB_NAME", db.Name},
			{"DB_USER", db.User},
		}

		for _, m := range missing {
			if m.value == "" {
				return fmt.Errorf("%w: %s", ErrMissingSetting, m.name)
			}
		}
	}

	if db.PoolMin < 0 || db.PoolMax < 1 || db.PoolMin > db.PoolMax {
		return fmt.Errorf("%w: pool bounds min=%d max=%d", ErrInvalidSetting, db.PoolMin, db.PoolMax)
	}

	if db.AcquireTimeout <= 0 || db.BatchAcquireTimeout <= 0 {
		return fmt.Errorf("%w: acquire timeouts must be positive", ErrInvalidSetting)
	}

	return nil
}

// ConnString returns the PostgreSQL connection URL. DatabaseURL is used
// verbatim when set; otherwise the URL is assembled from the DB_* settings.
func (c *Config) ConnString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	db := c.Database

	sslMode := "disable"
	if db.SSL {
		sslMode = "require"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:     "/" + db.Name,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else if db.User != "" {
		u.User = url.User(db.User)
	}

	return u.String()
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}
