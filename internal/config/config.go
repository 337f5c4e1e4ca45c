package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"

	AccountsPostgres = "postgres"
	AccountsMemory   = "memory"
)

type Config struct {
	Environment string `toml:"-"`

	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// postgres
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	MigrateOnStart bool   `toml:"migrate_on_start"`

	// redis
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	// progress store: memory | file | postgres | redis | sqlite
	ProgressStore     string `toml:"progress_store"`
	ProgressFilePath  string `toml:"progress_file_path"`
	ProgressFileWatch bool   `toml:"progress_file_watch"`
	SQLitePath        string `toml:"sqlite_path"`

	// accounts store: postgres | memory
	AccountsStore string `toml:"accounts_store"`

	// status cache
	StatusCacheSizeMB     int `toml:"status_cache_size_mb"`
	StatusCacheTTLSeconds int `toml:"status_cache_ttl_seconds"`

	// http surface
	AllowedOrigins             []string `toml:"allowed_origins"`
	AuthRequired               bool     `toml:"auth_required"`
	AuthRateLimitAllowedPerMin int      `toml:"auth_rate_limit_allowed_per_min"`
}

type Toml struct {
	Development *Config `toml:"development"`
	Production  *Config `toml:"production"`
	DockerDev   *Config `toml:"dockerdev"`
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	case "ddev", "dockerdev":
		cfg = t.DockerDev
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}

	if cfg == nil {
		return nil, fmt.Errorf("config for env [%s] missing", env)
	}
	cfg.Environment = strings.ToLower(env)
	return cfg, nil
}

// Load reads the TOML config file and returns the section for the given env.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}

	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.ProgressStore == "" {
		c.ProgressStore = StoreMemory
	}
	if c.AccountsStore == "" {
		c.AccountsStore = AccountsPostgres
	}
	if c.StatusCacheSizeMB <= 0 {
		c.StatusCacheSizeMB = 8
	}
	if c.StatusCacheTTLSeconds <= 0 {
		c.StatusCacheTTLSeconds = 60
	}
	if c.AuthRateLimitAllowedPerMin <= 0 {
		c.AuthRateLimitAllowedPerMin = 15
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{
			"http://localhost:5173",
			"http://localhost:8080",
			"http://localhost:8081",
		}
	}
}

func (c *Config) Validate() error {
	switch c.ProgressStore {
	case StoreMemory, StorePostgres, StoreRedis:
	case StoreFile:
		if c.ProgressFilePath == "" {
			return errors.New("progress_file_path is required for the file progress store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite_path is required for the sqlite progress store")
		}
	default:
		return fmt.Errorf("unknown progress store: %s", c.ProgressStore)
	}

	switch c.AccountsStore {
	case AccountsPostgres, AccountsMemory:
	default:
		return fmt.Errorf("unknown accounts store: %s", c.AccountsStore)
	}
	return nil
}
