package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateServerMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"

	// Server mode does not touch the upstream API, so no key is needed.
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresApiKeyForIngestModes(t *testing.T) {
	for _, mode := range []string{"full", "ingest"} {
		cfg := Defaults()
		cfg.Mode = mode

		err := cfg.Validate()
		require.Error(t, err, "mode %s", mode)
		assert.Contains(t, err.Error(), "api_key is required")

		cfg.TwelveData.ApiKey = "demo"
		assert.NoError(t, cfg.Validate(), "mode %s", mode)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "bogus" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "chatty" }, "unknown log_level"},
		{"zero heartbeat", func(c *Config) { c.Feed.HeartbeatInterval.Duration = 0 }, "heartbeat_interval"},
		{"max below base delay", func(c *Config) { c.Feed.MaxReconnectDelay.Duration = time.Second }, "max_reconnect_delay"},
		{"zero retry limit", func(c *Config) { c.Feed.SubscribeRetryLimit = 0 }, "subscribe_retry_limit"},
		{"zero price interval", func(c *Config) { c.Poller.PriceInterval.Duration = 0 }, "price_interval"},
		{"bad db port", func(c *Config) { c.Database.Port = 0 }, "database: port"},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"bad starting cash", func(c *Config) { c.Ledger.StartingCash = "lots" }, "starting_cash"},
		{"negative starting cash", func(c *Config) { c.Ledger.StartingCash = "-1" }, "starting_cash"},
		{"bad server port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = "server"
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateSkipsHostChecksWithDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Database.DSN = "postgres://u:p@db.example.com:5432/tradefeed"
	cfg.Database.Host = ""
	cfg.Database.Port = 0
	cfg.Database.Database = ""

	assert.NoError(t, cfg.Validate())
}

func TestModeHelpers(t *testing.T) {
	cfg := Defaults()

	cfg.Mode = "full"
	assert.True(t, cfg.NeedsIngest())
	assert.True(t, cfg.NeedsServer())

	cfg.Mode = "ingest"
	assert.True(t, cfg.NeedsIngest())
	assert.False(t, cfg.NeedsServer())

	cfg.Mode = "server"
	assert.False(t, cfg.NeedsIngest())
	assert.True(t, cfg.NeedsServer())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "ingest"
log_level = "debug"

[twelvedata]
api_key = "file-key"

[feed]
heartbeat_interval = "15s"
watchlist = ["TSLA", "NVDA"]

[poller]
bar_lookback_days = 7

[ledger]
starting_cash = "25000.00"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ingest", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file-key", cfg.TwelveData.ApiKey)
	assert.Equal(t, 15*time.Second, cfg.Feed.HeartbeatInterval.Duration)
	assert.Equal(t, []string{"TSLA", "NVDA"}, cfg.Feed.Watchlist)
	assert.Equal(t, 7, cfg.Poller.BarLookbackDays)
	assert.Equal(t, "25000.00", cfg.Ledger.StartingCash)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://api.twelvedata.com", cfg.TwelveData.BaseURL)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "server"`), 0o600))

	t.Setenv("TRADEFEED_TWELVEDATA_API_KEY", "env-key")
	t.Setenv("TRADEFEED_MODE", "full")
	t.Setenv("TRADEFEED_FEED_WATCHLIST", "AMD, INTC ,")
	t.Setenv("TRADEFEED_POLLER_PRICE_INTERVAL", "2s")
	t.Setenv("TRADEFEED_DATABASE_PORT", "6432")
	t.Setenv("TRADEFEED_SERVER_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.TwelveData.ApiKey)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, []string{"AMD", "INTC"}, cfg.Feed.Watchlist)
	assert.Equal(t, 2*time.Second, cfg.Poller.PriceInterval.Duration)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestStartingCashDecimal(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "10000", cfg.Ledger.StartingCashDecimal().String())
}
