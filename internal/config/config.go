// Package config defines the top-level configuration for the ingestion
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ODDSYNC_* environment
// variables.
type Config struct {
	Sources   SourcesConfig   `toml:"sources"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Ingest    IngestConfig    `toml:"ingest"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Cache     CacheConfig     `toml:"cache"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// SourcesConfig groups the per-platform client settings.
type SourcesConfig struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Manifold   SourceConfig     `toml:"manifold"`
	PredictIt  SourceConfig     `toml:"predictit"`
}

// SourceConfig holds the settings shared by every platform client.
type SourceConfig struct {
	Enabled      bool     `toml:"enabled"`
	BaseURL      string   `toml:"base_url"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	PageTimeout  duration `toml:"page_timeout"`
	FullCadence  duration `toml:"full_cadence"`
	DeltaCadence duration `toml:"delta_cadence"`
}

// PolymarketConfig extends SourceConfig with the live price feed endpoint.
type PolymarketConfig struct {
	SourceConfig
	WSHost    string `toml:"ws_host"`
	WSEnabled bool   `toml:"ws_enabled"`
}

// KalshiConfig extends SourceConfig with the API credential.
type KalshiConfig struct {
	SourceConfig
	APIKey string `toml:"api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the object-store settings for the page archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IngestConfig holds run execution parameters.
type IngestConfig struct {
	PageBuffer        int      `toml:"page_buffer"`
	DeltaFallback     duration `toml:"delta_fallback"`
	ErrorSummaryLimit int      `toml:"error_summary_limit"`
	StaleRunAfter     duration `toml:"stale_run_after"`
}

// SchedulerConfig holds the scheduler parameters.
type SchedulerConfig struct {
	TickInterval duration `toml:"tick_interval"`
	RunSlots     int64    `toml:"run_slots"`
	KickCooldown duration `toml:"kick_cooldown"`
	LeaderLock   bool     `toml:"leader_lock"`
}

// CacheConfig holds the read-side market cache parameters.
type CacheConfig struct {
	Enabled bool     `toml:"enabled"`
	TTL     duration `toml:"ttl"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	defaultSource := func(baseURL string) SourceConfig {
		return SourceConfig{
			Enabled:      true,
			BaseURL:      baseURL,
			RateLimit:    10,
			RateWindow:   duration{time.Second},
			PageTimeout:  duration{30 * time.Second},
			FullCadence:  duration{7 * 24 * time.Hour},
			DeltaCadence: duration{time.Hour},
		}
	}

	return Config{
		Sources: SourcesConfig{
			Polymarket: PolymarketConfig{
				SourceConfig: defaultSource("https://gamma-api.polymarket.com"),
				WSHost:       "wss://ws-subscriptions-clob.polymarket.com",
				WSEnabled:    false,
			},
			Kalshi: KalshiConfig{
				SourceConfig: defaultSource("https://api.elections.kalshi.com/trade-api/v2"),
			},
			Manifold:  defaultSource("https://api.manifold.markets/v0"),
			PredictIt: defaultSource("https://www.predictit.org/api"),
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oddsync",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "oddsync-raw",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			PageBuffer:        1,
			DeltaFallback:     duration{24 * time.Hour},
			ErrorSummaryLimit: 10,
			StaleRunAfter:     duration{2 * time.Hour},
		},
		Scheduler: SchedulerConfig{
			TickInterval: duration{time.Minute},
			RunSlots:     4,
			KickCooldown: duration{30 * time.Second},
			LeaderLock:   false,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"run_failed", "run_partial"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest": true,
	"serve":  true,
	"full":   true,
	"once":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, serve, full, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	validateSource := func(name string, s SourceConfig) {
		if !s.Enabled {
			return
		}
		if s.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("sources.%s: base_url must not be empty", name))
		}
		if s.RateLimit < 1 {
			errs = append(errs, fmt.Sprintf("sources.%s: rate_limit must be >= 1", name))
		}
		if s.RateWindow.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("sources.%s: rate_window must be positive", name))
		}
		if s.PageTimeout.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("sources.%s: page_timeout must be positive", name))
		}
		if s.FullCadence.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("sources.%s: full_cadence must be positive", name))
		}
		if s.DeltaCadence.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("sources.%s: delta_cadence must be positive", name))
		}
	}
	validateSource("polymarket", c.Sources.Polymarket.SourceConfig)
	validateSource("kalshi", c.Sources.Kalshi.SourceConfig)
	validateSource("manifold", c.Sources.Manifold)
	validateSource("predictit", c.Sources.PredictIt)

	if c.Sources.Kalshi.Enabled && c.Sources.Kalshi.APIKey == "" {
		errs = append(errs, "sources.kalshi: api_key is required when kalshi is enabled")
	}
	if c.Sources.Polymarket.WSEnabled && c.Sources.Polymarket.WSHost == "" {
		errs = append(errs, "sources.polymarket: ws_host is required when ws_enabled is set")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 only matters when the page archive is on.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Ingest
	if c.Ingest.PageBuffer < 1 {
		errs = append(errs, "ingest: page_buffer must be >= 1")
	}
	if c.Ingest.DeltaFallback.Duration <= 0 {
		errs = append(errs, "ingest: delta_fallback must be positive")
	}
	if c.Ingest.StaleRunAfter.Duration <= 0 {
		errs = append(errs, "ingest: stale_run_after must be positive")
	}

	// Scheduler
	if c.Scheduler.TickInterval.Duration <= 0 {
		errs = append(errs, "scheduler: tick_interval must be positive")
	}
	if c.Scheduler.RunSlots < 1 {
		errs = append(errs, "scheduler: run_slots must be >= 1")
	}

	// Cache
	if c.Cache.Enabled && c.Cache.TTL.Duration <= 0 {
		errs = append(errs, "cache: ttl must be positive when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
