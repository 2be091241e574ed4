// Package config loads and validates all runtime configuration for the
// gateway.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.yaml file in the working directory.
// Environment variables take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// AppSecret seeds the secret envelope's AEAD key (internal/secret); a
	// connection's stored API key cannot be decrypted without it.
	AppSecret string

	DB       DBConfig
	Redis    RedisConfig
	Graph    GraphConfig
	Writers  WritersConfig
	Failover FailoverConfig

	// CORSOrigins is the list of allowed CORS origins.
	CORSOrigins []string

	// AppBaseURL is used to construct absolute URLs (e.g. admin API links).
	AppBaseURL string
}

// DBConfig holds the Postgres relational-store connection (internal/store).
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	PoolMin  int32
	PoolMax  int32
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Name)
}

// RedisConfig holds the external KV connection backing the usage counter
// engine and graph-cache hydration. Optional: a nil client puts both in
// DB-fallback-only mode.
type RedisConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// GraphConfig controls the graph resolver's local TTL cache and usage
// counter TTL.
type GraphConfig struct {
	// LocalTTL is LOCAL_GRAPH_TTL_MS: how long a resolved Graph's entity
	// shape is served from the in-process cache before a fresh DB load.
	LocalTTL time.Duration

	// CounterTTL is the TTL renewed on every usage counter write (§4.2.5).
	CounterTTL time.Duration
}

// WritersConfig controls the two async writer batching windows (§5).
type WritersConfig struct {
	LogFlushInterval   time.Duration
	LogBatchSize       int
	UsageFlushInterval time.Duration
	UsageBatchSize     int
	ClickHouseDSN      string
	ClickHouseTable    string
}

// FailoverConfig controls the dispatcher's per-request connection retries.
type FailoverConfig struct {
	// MaxRetries is the maximum number of connection attempts per request
	// (including the first). Default: 3.
	MaxRetries int

	// UpstreamTimeout is the per-connection HTTP timeout. Default: 30s.
	UpstreamTimeout time.Duration
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)

	v.SetDefault("REDIS_PORT", 6379)

	v.SetDefault("LOCAL_GRAPH_TTL_MS", 5_000)
	v.SetDefault("USAGE_COUNTER_TTL_MS", 60_000)

	v.SetDefault("LOG_FLUSH_MS", 750)
	v.SetDefault("LOG_FLUSH_BATCH", 500)
	v.SetDefault("USAGE_FLUSH_MS", 50)
	v.SetDefault("USAGE_FLUSH_BATCH", 10)
	v.SetDefault("CLICKHOUSE_TABLE", "request_log")

	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")

	// ── Build config ────────────────────────────────────────────────────
	cfg := &Config{
		Port:      v.GetInt("PORT"),
		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		AppSecret: v.GetString("APPLICATION_SECRET"),

		DB: DBConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASS"),
			Name:     v.GetString("DB_NAME"),
			PoolMin:  int32(v.GetInt("DB_POOL_MIN")),
			PoolMax:  int32(v.GetInt("DB_POOL_MAX")),
		},

		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			User:     v.GetString("REDIS_USER"),
			Password: v.GetString("REDIS_PASS"),
		},

		Graph: GraphConfig{
			LocalTTL:   time.Duration(v.GetInt("LOCAL_GRAPH_TTL_MS")) * time.Millisecond,
			CounterTTL: time.Duration(v.GetInt("USAGE_COUNTER_TTL_MS")) * time.Millisecond,
		},

		Writers: WritersConfig{
			LogFlushInterval:   time.Duration(v.GetInt("LOG_FLUSH_MS")) * time.Millisecond,
			LogBatchSize:       v.GetInt("LOG_FLUSH_BATCH"),
			UsageFlushInterval: time.Duration(v.GetInt("USAGE_FLUSH_MS")) * time.Millisecond,
			UsageBatchSize:     v.GetInt("USAGE_FLUSH_BATCH"),
			ClickHouseDSN:      v.GetString("CLICKHOUSE_DSN"),
			ClickHouseTable:    v.GetString("CLICKHOUSE_TABLE"),
		},

		Failover: FailoverConfig{
			MaxRetries:      v.GetInt("MAX_RETRIES"),
			UpstreamTimeout: v.GetDuration("UPSTREAM_TIMEOUT"),
		},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
		AppBaseURL:  v.GetString("APP_BASE_URL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as
// defaults.
func (c *Config) validate() error {
	if c.AppSecret == "" {
		return fmt.Errorf("config: APPLICATION_SECRET is required to seal/unseal connection API keys")
	}
	if c.DB.Host == "" || c.DB.User == "" || c.DB.Name == "" {
		return fmt.Errorf("config: DB_HOST, DB_USER, and DB_NAME are required")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.Failover.MaxRetries < 1 {
		return fmt.Errorf("config: MAX_RETRIES must be >= 1, got %d", c.Failover.MaxRetries)
	}
	if c.Failover.UpstreamTimeout <= 0 {
		return fmt.Errorf("config: UPSTREAM_TIMEOUT must be a positive duration")
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
