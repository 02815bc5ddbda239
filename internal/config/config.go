// Package config loads the auction engine configuration from defaults, an
// optional config file and AUCTION_* environment variables, in that order
// of increasing priority.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "AUCTION"

// Config is the complete service configuration.
type Config struct {
	Port            string        `mapstructure:"port"`
	DatabaseURL     string        `mapstructure:"database_url"`
	RedisURL        string        `mapstructure:"redis_url"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	PaymentDecimals int32         `mapstructure:"payment_decimals"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Log             LogConfig     `mapstructure:"log"`
	HTTP            HTTPConfig    `mapstructure:"http"`
	Dev             DevConfig     `mapstructure:"dev"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// HTTPConfig holds server timeouts.
type HTTPConfig struct {
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DevConfig seeds the in-memory ledger used when no external ledger is
// configured.
type DevConfig struct {
	SeedBalances map[string]uint64 `mapstructure:"seed_balances"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", 30*time.Second)
	v.SetDefault("payment_decimals", 6) // USDC
	v.SetDefault("shutdown_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.request_timeout", 30*time.Second)

	v.SetDefault("dev.seed_balances", map[string]uint64{})
}

// Load reads configuration into a Config. path may be empty, in which case
// only defaults and the environment apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.PaymentDecimals < 0 || c.PaymentDecimals > 18 {
		return fmt.Errorf("payment_decimals must be within [0, 18], got %d", c.PaymentDecimals)
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		return fmt.Errorf("redis_url requires database_url")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", l.Level, err)
	}
	return level, nil
}
