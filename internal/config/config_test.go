package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, int32(6), cfg.PaymentDecimals)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.HTTP.RequestTimeout)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("AUCTION_PORT", "9090")
	t.Setenv("AUCTION_PAYMENT_DECIMALS", "2")
	t.Setenv("AUCTION_LOG_LEVEL", "debug")
	t.Setenv("AUCTION_HTTP_READ_TIMEOUT", "3s")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int32(2), cfg.PaymentDecimals)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ReadTimeout)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auction.yaml")
	err := os.WriteFile(path, []byte(`
port: "7070"
cache_ttl: 1m
dev:
  seed_balances:
    alice: 1000000
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, uint64(1_000_000), cfg.Dev.SeedBalances["alice"])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{Port: "8080", PaymentDecimals: 6, CacheTTL: time.Second, Log: LogConfig{Level: "info"}}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"negative decimals", func(c *Config) { c.PaymentDecimals = -1 }},
		{"too many decimals", func(c *Config) { c.PaymentDecimals = 19 }},
		{"redis without database", func(c *Config) { c.RedisURL = "redis://localhost:6379" }},
		{"zero cache ttl", func(c *Config) { c.CacheTTL = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := valid()
	assert.NoError(t, cfg.Validate())
}
