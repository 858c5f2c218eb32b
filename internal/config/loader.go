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
// built-in defaults, applies TRADEFEED_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TRADEFEED_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── TwelveData ──
	setStr(&cfg.TwelveData.ApiKey, "TRADEFEED_TWELVEDATA_API_KEY")
	setStr(&cfg.TwelveData.BaseURL, "TRADEFEED_TWELVEDATA_BASE_URL")
	setStr(&cfg.TwelveData.WsURL, "TRADEFEED_TWELVEDATA_WS_URL")

	// ── Feed ──
	setDuration(&cfg.Feed.HeartbeatInterval, "TRADEFEED_FEED_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Feed.BaseReconnectDelay, "TRADEFEED_FEED_BASE_RECONNECT_DELAY")
	setDuration(&cfg.Feed.MaxReconnectDelay, "TRADEFEED_FEED_MAX_RECONNECT_DELAY")
	setInt(&cfg.Feed.SubscribeRetryLimit, "TRADEFEED_FEED_SUBSCRIBE_RETRY_LIMIT")
	setDuration(&cfg.Feed.RateLimitCooldown, "TRADEFEED_FEED_RATE_LIMIT_COOLDOWN")
	setStringSlice(&cfg.Feed.Watchlist, "TRADEFEED_FEED_WATCHLIST")

	// ── Poller ──
	setDuration(&cfg.Poller.PriceInterval, "TRADEFEED_POLLER_PRICE_INTERVAL")
	setDuration(&cfg.Poller.BarInterval, "TRADEFEED_POLLER_BAR_INTERVAL")
	setInt(&cfg.Poller.BarLookbackDays, "TRADEFEED_POLLER_BAR_LOOKBACK_DAYS")
	setDuration(&cfg.Poller.RequestTimeout, "TRADEFEED_POLLER_REQUEST_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "TRADEFEED_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "TRADEFEED_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "TRADEFEED_DATABASE_HOST")
	setInt(&cfg.Database.Port, "TRADEFEED_DATABASE_PORT")
	setStr(&cfg.Database.Database, "TRADEFEED_DATABASE_NAME")
	setStr(&cfg.Database.User, "TRADEFEED_DATABASE_USER")
	setStr(&cfg.Database.Password, "TRADEFEED_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "TRADEFEED_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "TRADEFEED_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "TRADEFEED_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "TRADEFEED_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEFEED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEFEED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEFEED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEFEED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEFEED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEFEED_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.QuoteTTL, "TRADEFEED_REDIS_QUOTE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADEFEED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEFEED_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEFEED_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEFEED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEFEED_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEFEED_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEFEED_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setStr(&cfg.Ledger.StartingCash, "TRADEFEED_LEDGER_STARTING_CASH")
	setStr(&cfg.Ledger.DefaultOwner, "TRADEFEED_LEDGER_DEFAULT_OWNER")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADEFEED_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TRADEFEED_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "TRADEFEED_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEFEED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEFEED_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEFEED_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEFEED_MODE")
	setStr(&cfg.LogLevel, "TRADEFEED_LOG_LEVEL")
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
