// Package config loads runtime configuration from a YAML file and
// environment variables, grounded on the teacher's internal/config/config.go
// viper setup (mapstructure tags, env-var override, hard-coded defaults).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the scan-scheduler process.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	Timezone    string `mapstructure:"timezone"`

	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Signal   SignalConfig   `mapstructure:"signal"`
	Database DatabaseConfig `mapstructure:"database"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Broker   BrokerConfig   `mapstructure:"broker"`

	// Triggers maps a trigger name (frequent/regular/comprehensive/daily) to
	// its cron-like spec, overriding internal/scheduler.DefaultTriggers.
	Triggers map[string]string `mapstructure:"triggers"`

	// WatchlistByCategory maps a StrategyCategory string to its instrument
	// list, feeding internal/scanner.Watchlist.
	WatchlistByCategory map[string][]string `mapstructure:"watchlist_by_category"`
}

// ScannerConfig bounds one scan epoch's concurrency and deadlines
// (spec.md §6: parallelism, epoch_timeout, symbol_timeout).
type ScannerConfig struct {
	Parallelism   int    `mapstructure:"parallelism"`
	EpochTimeout  string `mapstructure:"epoch_timeout"`
	SymbolTimeout string `mapstructure:"symbol_timeout"`
}

// FetchConfig bounds broker RPC timeouts by interval class
// (spec.md §6: fetch_timeout_intraday, fetch_timeout_history).
type FetchConfig struct {
	TimeoutIntraday string `mapstructure:"timeout_intraday"`
	TimeoutHistory  string `mapstructure:"timeout_history"`
}

// CacheConfig bounds the symbol cache's freshness and size
// (spec.md §6: cache_ttl_intraday, cache_ttl_daily, cache_capacity).
type CacheConfig struct {
	TTLIntraday string `mapstructure:"ttl_intraday"`
	TTLDaily    string `mapstructure:"ttl_daily"`
	Capacity    int    `mapstructure:"capacity"`
}

// SignalConfig bounds signal expiry and auto-trade behavior
// (spec.md §6: signal_timeout, auto_trade, auto_threshold).
type SignalConfig struct {
	Timeout       string  `mapstructure:"timeout"`
	AutoTrade     bool    `mapstructure:"auto_trade"`
	AutoThreshold float64 `mapstructure:"auto_threshold"`
}

// DatabaseConfig configures the Postgres signal store.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password" json:"-" yaml:"-"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// TelegramConfig configures the Telegram notifier. An empty BotToken
// disables notifications.
type TelegramConfig struct {
	BotToken string  `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// BrokerConfig configures the reference HTTP broker client.
type BrokerConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// Load reads config.yaml from ./configs or the working directory, applies
// defaults, and overlays environment variables (dots become underscores,
// so `database.password` binds to `DATABASE_PASSWORD`).
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN environment variable: %w", err)
	}
	if err := viper.BindEnv("database.password", "DATABASE_PASSWORD"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_PASSWORD environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Environment = strings.ToLower(cfg.Environment)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks the duration-shaped fields parse and the scanner and
// signal settings are within usable ranges.
func (c *Config) validate() error {
	durations := map[string]string{
		"scanner.epoch_timeout":  c.Scanner.EpochTimeout,
		"scanner.symbol_timeout": c.Scanner.SymbolTimeout,
		"fetch.timeout_intraday": c.Fetch.TimeoutIntraday,
		"fetch.timeout_history":  c.Fetch.TimeoutHistory,
		"cache.ttl_intraday":     c.Cache.TTLIntraday,
		"cache.ttl_daily":        c.Cache.TTLDaily,
		"signal.timeout":         c.Signal.Timeout,
	}
	for key, val := range durations {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}

	if c.Scanner.Parallelism <= 0 {
		return errors.New("scanner.parallelism must be positive")
	}
	if c.Signal.AutoThreshold < 0 || c.Signal.AutoThreshold > 1 {
		return errors.New("signal.auto_threshold must be between 0 and 1")
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("timezone", "Asia/Kolkata")

	viper.SetDefault("scanner.parallelism", 5)
	viper.SetDefault("scanner.epoch_timeout", "300s")
	viper.SetDefault("scanner.symbol_timeout", "60s")

	viper.SetDefault("fetch.timeout_intraday", "30s")
	viper.SetDefault("fetch.timeout_history", "60s")

	viper.SetDefault("cache.ttl_intraday", "30m")
	viper.SetDefault("cache.ttl_daily", "24h")
	viper.SetDefault("cache.capacity", 2048)

	viper.SetDefault("signal.timeout", "1h")
	viper.SetDefault("signal.auto_trade", false)
	viper.SetDefault("signal.auto_threshold", 0.8)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "scanscheduler")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_ids", []int64{})

	viper.SetDefault("broker.base_url", "http://localhost:9000")

	viper.SetDefault("triggers", map[string]string{})
	viper.SetDefault("watchlist_by_category", map[string][]string{})
}
