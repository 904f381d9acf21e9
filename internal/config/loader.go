package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ODDSYNC_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ODDSYNC_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Sources ──
	setBool(&cfg.Sources.Polymarket.Enabled, "ODDSYNC_SOURCES_POLYMARKET_ENABLED")
	setStr(&cfg.Sources.Polymarket.BaseURL, "ODDSYNC_SOURCES_POLYMARKET_BASE_URL")
	setStr(&cfg.Sources.Polymarket.WSHost, "ODDSYNC_SOURCES_POLYMARKET_WS_HOST")
	setBool(&cfg.Sources.Polymarket.WSEnabled, "ODDSYNC_SOURCES_POLYMARKET_WS_ENABLED")
	setBool(&cfg.Sources.Kalshi.Enabled, "ODDSYNC_SOURCES_KALSHI_ENABLED")
	setStr(&cfg.Sources.Kalshi.BaseURL, "ODDSYNC_SOURCES_KALSHI_BASE_URL")
	setStr(&cfg.Sources.Kalshi.APIKey, "ODDSYNC_SOURCES_KALSHI_API_KEY")
	setBool(&cfg.Sources.Manifold.Enabled, "ODDSYNC_SOURCES_MANIFOLD_ENABLED")
	setStr(&cfg.Sources.Manifold.BaseURL, "ODDSYNC_SOURCES_MANIFOLD_BASE_URL")
	setBool(&cfg.Sources.PredictIt.Enabled, "ODDSYNC_SOURCES_PREDICTIT_ENABLED")
	setStr(&cfg.Sources.PredictIt.BaseURL, "ODDSYNC_SOURCES_PREDICTIT_BASE_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ODDSYNC_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ODDSYNC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ODDSYNC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ODDSYNC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ODDSYNC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ODDSYNC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ODDSYNC_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ODDSYNC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ODDSYNC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ODDSYNC_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ODDSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ODDSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ODDSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ODDSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ODDSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ODDSYNC_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ODDSYNC_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ODDSYNC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ODDSYNC_S3_REGION")
	setStr(&cfg.S3.Bucket, "ODDSYNC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ODDSYNC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ODDSYNC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ODDSYNC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ODDSYNC_S3_FORCE_PATH_STYLE")

	// ── Ingest ──
	setInt(&cfg.Ingest.PageBuffer, "ODDSYNC_INGEST_PAGE_BUFFER")
	setDuration(&cfg.Ingest.DeltaFallback, "ODDSYNC_INGEST_DELTA_FALLBACK")
	setInt(&cfg.Ingest.ErrorSummaryLimit, "ODDSYNC_INGEST_ERROR_SUMMARY_LIMIT")
	setDuration(&cfg.Ingest.StaleRunAfter, "ODDSYNC_INGEST_STALE_RUN_AFTER")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.TickInterval, "ODDSYNC_SCHEDULER_TICK_INTERVAL")
	setInt64(&cfg.Scheduler.RunSlots, "ODDSYNC_SCHEDULER_RUN_SLOTS")
	setDuration(&cfg.Scheduler.KickCooldown, "ODDSYNC_SCHEDULER_KICK_COOLDOWN")
	setBool(&cfg.Scheduler.LeaderLock, "ODDSYNC_SCHEDULER_LEADER_LOCK")

	// ── Cache ──
	setBool(&cfg.Cache.Enabled, "ODDSYNC_CACHE_ENABLED")
	setDuration(&cfg.Cache.TTL, "ODDSYNC_CACHE_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ODDSYNC_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ODDSYNC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ODDSYNC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ODDSYNC_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ODDSYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ODDSYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ODDSYNC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ODDSYNC_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ODDSYNC_MODE")
	setStr(&cfg.LogLevel, "ODDSYNC_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
