// Package config defines the top-level configuration for the trade feed
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEFEED_* environment variables.
type Config struct {
	TwelveData TwelveDataConfig `toml:"twelvedata"`
	Feed       FeedConfig       `toml:"feed"`
	Poller     PollerConfig     `toml:"poller"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// TwelveDataConfig holds upstream market data API parameters.
type TwelveDataConfig struct {
	ApiKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`
}

// FeedConfig holds websocket feed connection parameters.
type FeedConfig struct {
	HeartbeatInterval   duration `toml:"heartbeat_interval"`
	BaseReconnectDelay  duration `toml:"base_reconnect_delay"`
	MaxReconnectDelay   duration `toml:"max_reconnect_delay"`
	SubscribeRetryLimit int      `toml:"subscribe_retry_limit"`
	RateLimitCooldown   duration `toml:"rate_limit_cooldown"`
	Watchlist           []string `toml:"watchlist"`
}

// PollerConfig holds REST reconciliation parameters.
type PollerConfig struct {
	PriceInterval   duration `toml:"price_interval"`
	BarInterval     duration `toml:"bar_interval"`
	BarLookbackDays int      `toml:"bar_lookback_days"`
	RequestTimeout  duration `toml:"request_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LedgerConfig holds portfolio ledger parameters.
type LedgerConfig struct {
	StartingCash string `toml:"starting_cash"`
	DefaultOwner string `toml:"default_owner"`
}

// StartingCashDecimal parses the configured starting cash. Call Validate
// first; it rejects unparseable values.
func (l LedgerConfig) StartingCashDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(l.StartingCash)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
	return Config{
		TwelveData: TwelveDataConfig{
			BaseURL: "https://api.twelvedata.com",
			WsURL:   "wss://ws.twelvedata.com/v1/quotes/price",
		},
		Feed: FeedConfig{
			HeartbeatInterval:   duration{10 * time.Second},
			BaseReconnectDelay:  duration{5 * time.Second},
			MaxReconnectDelay:   duration{60 * time.Second},
			SubscribeRetryLimit: 3,
			RateLimitCooldown:   duration{60 * time.Second},
			Watchlist:           []string{"AAPL", "MSFT", "GOOGL"},
		},
		Poller: PollerConfig{
			PriceInterval:   duration{5 * time.Second},
			BarInterval:     duration{5 * time.Minute},
			BarLookbackDays: 30,
			RequestTimeout:  duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradefeed",
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
			QuoteTTL:   duration{time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradefeed-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			StartingCash: "10000.00",
			DefaultOwner: "default",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true,
	"ingest": true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsIngest reports whether the mode runs the feed and poller pipeline.
func (c *Config) NeedsIngest() bool {
	m := strings.ToLower(c.Mode)
	return m == "full" || m == "ingest"
}

// NeedsServer reports whether the mode runs the HTTP and websocket server.
func (c *Config) NeedsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "full" || m == "server"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, ingest, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Upstream credentials are only needed when the ingest pipeline runs.
	if c.NeedsIngest() {
		if strings.TrimSpace(c.TwelveData.ApiKey) == "" {
			errs = append(errs, "twelvedata: api_key is required for mode "+c.Mode)
		}
		if c.TwelveData.BaseURL == "" {
			errs = append(errs, "twelvedata: base_url must not be empty")
		}
		if c.TwelveData.WsURL == "" {
			errs = append(errs, "twelvedata: ws_url must not be empty")
		}
	}

	if c.Feed.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "feed: heartbeat_interval must be positive")
	}
	if c.Feed.BaseReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: base_reconnect_delay must be positive")
	}
	if c.Feed.MaxReconnectDelay.Duration < c.Feed.BaseReconnectDelay.Duration {
		errs = append(errs, "feed: max_reconnect_delay must be >= base_reconnect_delay")
	}
	if c.Feed.SubscribeRetryLimit < 1 {
		errs = append(errs, "feed: subscribe_retry_limit must be >= 1")
	}

	if c.Poller.PriceInterval.Duration <= 0 {
		errs = append(errs, "poller: price_interval must be positive")
	}
	if c.Poller.BarInterval.Duration <= 0 {
		errs = append(errs, "poller: bar_interval must be positive")
	}
	if c.Poller.BarLookbackDays < 1 {
		errs = append(errs, "poller: bar_lookback_days must be >= 1")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region is required when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if cash, err := decimal.NewFromString(c.Ledger.StartingCash); err != nil {
		errs = append(errs, fmt.Sprintf("ledger: starting_cash %q is not a valid decimal", c.Ledger.StartingCash))
	} else if cash.Sign() <= 0 {
		errs = append(errs, "ledger: starting_cash must be positive")
	}
	if strings.TrimSpace(c.Ledger.DefaultOwner) == "" {
		errs = append(errs, "ledger: default_owner must not be empty")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
