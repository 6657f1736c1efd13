// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "AUTOSELL"

// Provider names accepted in price.providers.
const (
	ProviderDexScreener = "dexscreener"
	ProviderJupiter     = "jupiter"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Price     PriceConfig     `mapstructure:"price"`
	Liquidity LiquidityConfig `mapstructure:"liquidity"`
	Swap      SwapConfig      `mapstructure:"swap"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	PostgresURL        string `mapstructure:"postgres_url"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	ConnMaxLifetimeSec int    `mapstructure:"conn_max_lifetime_sec"`
	LogLevel           string `mapstructure:"log_level"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// RedisConfig is optional. An empty Addr disables the price cache and the
// event sink.
type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	PriceCacheTTLMs int    `mapstructure:"price_cache_ttl_ms"`
	EventsChannel   string `mapstructure:"events_channel"`
}

type PriceConfig struct {
	Providers         []string `mapstructure:"providers"`
	DexScreenerURL    string   `mapstructure:"dexscreener_url"`
	JupiterURL        string   `mapstructure:"jupiter_url"`
	DelayMs           int      `mapstructure:"delay_ms"`
	TimeoutMs         int      `mapstructure:"timeout_ms"`
	RequestsPerMinute int      `mapstructure:"requests_per_minute"`
}

type LiquidityConfig struct {
	FloorUSD float64 `mapstructure:"floor_usd"`
	DelayMs  int     `mapstructure:"delay_ms"`
}

type SwapConfig struct {
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutMs      int    `mapstructure:"timeout_ms"`
	MaxRetries     int    `mapstructure:"max_retries"`
	RetryDelayMs   int    `mapstructure:"retry_delay_ms"`
	MaxElapsedMs   int    `mapstructure:"max_elapsed_ms"`
	RequestDelayMs int    `mapstructure:"request_delay_ms"`
	DryRun         bool   `mapstructure:"dry_run"`
}

type SchedulerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	BatchSize   int  `mapstructure:"batch_size"`
	IntervalSec int  `mapstructure:"interval_sec"`
}

type APIConfig struct {
	ListenAddr         string `mapstructure:"listen_addr"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Debug       bool   `mapstructure:"debug"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
	Pretty      bool   `mapstructure:"pretty"`
	JournalFile string `mapstructure:"journal_file"` // пустая строка отключает журнал сделок
}

const (
	DefaultBatchSize          = 100
	DefaultSchedulerInterval  = 60
	DefaultPriceDelay         = 250
	DefaultPriceTimeout       = 10000
	DefaultRequestsPerMinute  = 300
	DefaultLiquidityFloorUSD  = 500.0
	DefaultLiquidityDelay     = 250
	DefaultSwapTimeout        = 30000
	DefaultSwapRetries        = 3
	DefaultSwapRetryDelay     = 500
	DefaultSwapMaxElapsed     = 60000
	DefaultSwapRequestDelay   = 200
	DefaultPriceCacheTTL      = 2000
	DefaultListenAddr         = ":8080"
	DefaultShutdownTimeoutSec = 15
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"database.postgres_url":          "",
		"database.max_idle_conns":        10,
		"database.max_open_conns":        50,
		"database.conn_max_lifetime_sec": 3600,
		"database.log_level":             "warn",
		"database.auto_migrate":          true,

		"redis.addr":               "",
		"redis.password":           "",
		"redis.db":                 0,
		"redis.price_cache_ttl_ms": DefaultPriceCacheTTL,
		"redis.events_channel":     "autosell:events",

		"price.providers":           []string{ProviderDexScreener, ProviderJupiter},
		"price.dexscreener_url":     "https://api.dexscreener.com",
		"price.jupiter_url":         "https://api.jup.ag/price/v2",
		"price.delay_ms":            DefaultPriceDelay,
		"price.timeout_ms":          DefaultPriceTimeout,
		"price.requests_per_minute": DefaultRequestsPerMinute,

		"liquidity.floor_usd": DefaultLiquidityFloorUSD,
		"liquidity.delay_ms":  DefaultLiquidityDelay,

		"swap.url":              "",
		"swap.api_key":          "",
		"swap.timeout_ms":       DefaultSwapTimeout,
		"swap.max_retries":      DefaultSwapRetries,
		"swap.retry_delay_ms":   DefaultSwapRetryDelay,
		"swap.max_elapsed_ms":   DefaultSwapMaxElapsed,
		"swap.request_delay_ms": DefaultSwapRequestDelay,
		"swap.dry_run":          false,

		"scheduler.enabled":      true,
		"scheduler.batch_size":   DefaultBatchSize,
		"scheduler.interval_sec": DefaultSchedulerInterval,

		"api.listen_addr":          DefaultListenAddr,
		"api.shutdown_timeout_sec": DefaultShutdownTimeoutSec,

		"log.level":        "info",
		"log.debug":        false,
		"log.file":         "logs/autosell.log",
		"log.max_size_mb":  100,
		"log.max_backups":  5,
		"log.max_age_days": 30,
		"log.compress":     true,
		"log.pretty":       false,
		"log.journal_file": "logs/sales.csv",
	}
}

// LoadConfig reads path (yaml, json or toml by extension) on top of the
// defaults and applies AUTOSELL_* environment overrides. An empty path uses
// defaults and environment only. A .env file in the working directory is
// loaded first when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validateConfig(&cfg)
}

// loadEnvironmentVariables handles overrides viper cannot decode on its own.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	envProviders := v.GetString("PRICE_PROVIDERS")
	if envProviders == "" {
		return
	}
	var providers []string
	for _, name := range strings.Split(envProviders, ",") {
		clean := strings.ToLower(strings.TrimSpace(name))
		if clean != "" {
			providers = append(providers, clean)
		}
	}
	if len(providers) > 0 {
		cfg.Price.Providers = providers
	}
}

func validateConfig(cfg *Config) error {
	if !cfg.Swap.DryRun {
		if cfg.Database.PostgresURL == "" {
			return errors.New("database.postgres_url is required unless swap.dry_run is set")
		}
		if err := validateURLWithCache(cfg.Database.PostgresURL, "postgres"); err != nil {
			return fmt.Errorf("invalid database.postgres_url: %w", err)
		}
		if cfg.Swap.URL == "" {
			return errors.New("swap.url is required unless swap.dry_run is set")
		}
		if err := validateURLWithCache(cfg.Swap.URL, "http"); err != nil {
			return fmt.Errorf("invalid swap.url: %w", err)
		}
	}
	if len(cfg.Price.Providers) == 0 {
		return errors.New("price.providers is empty")
	}
	for _, name := range cfg.Price.Providers {
		switch name {
		case ProviderDexScreener:
			if err := validateURLWithCache(cfg.Price.DexScreenerURL, "http"); err != nil {
				return fmt.Errorf("invalid price.dexscreener_url: %w", err)
			}
		case ProviderJupiter:
			if err := validateURLWithCache(cfg.Price.JupiterURL, "http"); err != nil {
				return fmt.Errorf("invalid price.jupiter_url: %w", err)
			}
		default:
			return fmt.Errorf("unknown price provider %q", name)
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.Scheduler.BatchSize <= 0 {
		return errors.New("invalid scheduler.batch_size")
	}
	if cfg.Scheduler.IntervalSec <= 0 {
		return errors.New("invalid scheduler.interval_sec")
	}
	if cfg.Price.DelayMs < 0 || cfg.Price.TimeoutMs <= 0 {
		return errors.New("invalid price delay or timeout")
	}
	if cfg.Liquidity.FloorUSD < 0 {
		return errors.New("invalid liquidity.floor_usd")
	}
	if cfg.Liquidity.DelayMs < 0 {
		return errors.New("invalid liquidity.delay_ms")
	}
	if cfg.Swap.MaxRetries < 0 {
		return errors.New("invalid swap.max_retries")
	}
	if cfg.Swap.TimeoutMs <= 0 {
		return errors.New("invalid swap.timeout_ms")
	}
	if cfg.Redis.PriceCacheTTLMs < 0 {
		return errors.New("invalid redis.price_cache_ttl_ms")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSec) * time.Second
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }
func (c RedisConfig) PriceCacheTTL() time.Duration { return millis(c.PriceCacheTTLMs) }
func (c PriceConfig) Delay() time.Duration { return millis(c.DelayMs) }
func (c PriceConfig) Timeout() time.Duration { return millis(c.TimeoutMs) }
func (c LiquidityConfig) Delay() time.Duration { return millis(c.DelayMs) }
func (c SwapConfig) Timeout() time.Duration { return millis(c.TimeoutMs) }
func (c SwapConfig) RetryDelay() time.Duration { return millis(c.RetryDelayMs) }
func (c SwapConfig) MaxElapsed() time.Duration { return millis(c.MaxElapsedMs) }
func (c SwapConfig) RequestDelay() time.Duration { return millis(c.RequestDelayMs) }
func (c SchedulerConfig) Interval() time.Duration { return time.Duration(c.IntervalSec) * time.Second }
func (c APIConfig) ShutdownTimeout() time.Duration { return time.Duration(c.ShutdownTimeoutSec) * time.Second }
