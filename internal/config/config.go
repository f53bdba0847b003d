// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
	"github.com/rovshanmuradov/solana-papertrader/internal/monitor"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "PAPER_TRADER"

// Config holds the paper trader settings.
type Config struct {
	MarketAPIURL  string `mapstructure:"market_api_url"`
	PriceAPIURL   string `mapstructure:"price_api_url"`
	RealtimeWSURL string `mapstructure:"realtime_ws_url"`
	NativeMint    string `mapstructure:"native_mint"`

	PollIntervalMs  int `mapstructure:"poll_interval_ms"`
	PollTimeoutMs   int `mapstructure:"poll_timeout_ms"`
	StaleAfterMs    int `mapstructure:"stale_after_ms"`
	ChartPriorityMs int `mapstructure:"chart_priority_ms"`

	MaxJumpPct     float64 `mapstructure:"max_jump_pct"`
	MinConfidence  int     `mapstructure:"min_confidence"`
	HighConfidence int     `mapstructure:"high_confidence"`

	PriceCeilingUSD   float64 `mapstructure:"price_ceiling_usd"`
	NativeBandLowUSD  float64 `mapstructure:"native_band_low_usd"`
	NativeBandHighUSD float64 `mapstructure:"native_band_high_usd"`

	StartingBalanceSOL float64 `mapstructure:"starting_balance_sol"`
	DBPath             string  `mapstructure:"db_path"`
	PersistDebounceMs  int     `mapstructure:"persist_debounce_ms"`
	RepriceIntervalMs  int     `mapstructure:"reprice_interval_ms"`
	NativeRefreshMs    int     `mapstructure:"native_refresh_ms"`
	RequestsPerMinute  int     `mapstructure:"requests_per_minute"`

	AlertProfitTargetPct float64 `mapstructure:"alert_profit_target_pct"`
	AlertLossLimitPct    float64 `mapstructure:"alert_loss_limit_pct"`
	AlertCooldownMs      int     `mapstructure:"alert_cooldown_ms"`

	MetricsAddr  string `mapstructure:"metrics_addr"`
	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
}

var urlCache sync.Map

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"market_api_url":          feed.DefaultPairsURL,
		"price_api_url":           feed.DefaultPriceURL,
		"realtime_ws_url":         "",
		"native_mint":             solana.SolMint.String(),
		"poll_interval_ms":        500,
		"poll_timeout_ms":         2000,
		"stale_after_ms":          10000,
		"chart_priority_ms":       3000,
		"max_jump_pct":            80.0,
		"min_confidence":          1,
		"high_confidence":         3,
		"price_ceiling_usd":       float64(feed.DefaultPriceCeilingUSD),
		"native_band_low_usd":     float64(feed.DefaultNativeBandLowUSD),
		"native_band_high_usd":    float64(feed.DefaultNativeBandHighUSD),
		"starting_balance_sol":    10.0,
		"db_path":                 "data/papertrader.db",
		"persist_debounce_ms":     5000,
		"reprice_interval_ms":     15000,
		"native_refresh_ms":       10000,
		"requests_per_minute":     feed.DefaultRequestsPerMinute,
		"alert_profit_target_pct": 50.0,
		"alert_loss_limit_pct":    20.0,
		"alert_cooldown_ms":       300000,
		"metrics_addr":            "",
		"debug_logging":           false,
		"log_file":                "logs/papertrader.log",
	}
}

// LoadConfig reads the configuration file at path, applies defaults and
// environment overrides, and validates the result. An empty path skips the
// file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loadEnvironmentVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvironmentVariables(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func validateConfig(cfg *Config) error {
	if err := validateURLWithCache(cfg.MarketAPIURL, "http", "https"); err != nil {
		return fmt.Errorf("market_api_url: %w", err)
	}
	if err := validateURLWithCache(cfg.PriceAPIURL, "http", "https"); err != nil {
		return fmt.Errorf("price_api_url: %w", err)
	}
	if cfg.RealtimeWSURL != "" {
		if err := validateURLWithCache(cfg.RealtimeWSURL, "ws", "wss"); err != nil {
			return fmt.Errorf("realtime_ws_url: %w", err)
		}
	}
	if _, err := solana.PublicKeyFromBase58(cfg.NativeMint); err != nil {
		return fmt.Errorf("native_mint: %w", err)
	}
	if cfg.DBPath == "" {
		return errors.New("db_path is required")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	positive := map[string]int{
		"poll_interval_ms":    cfg.PollIntervalMs,
		"poll_timeout_ms":     cfg.PollTimeoutMs,
		"stale_after_ms":      cfg.StaleAfterMs,
		"chart_priority_ms":   cfg.ChartPriorityMs,
		"persist_debounce_ms": cfg.PersistDebounceMs,
		"reprice_interval_ms": cfg.RepriceIntervalMs,
		"native_refresh_ms":   cfg.NativeRefreshMs,
		"requests_per_minute": cfg.RequestsPerMinute,
		"alert_cooldown_ms":   cfg.AlertCooldownMs,
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, value)
		}
	}

	if cfg.MaxJumpPct <= 0 {
		return fmt.Errorf("max_jump_pct must be positive, got %v", cfg.MaxJumpPct)
	}
	if cfg.MinConfidence < 0 || cfg.HighConfidence < cfg.MinConfidence {
		return fmt.Errorf("confidence thresholds out of order: min %d, high %d", cfg.MinConfidence, cfg.HighConfidence)
	}
	if cfg.PriceCeilingUSD <= 0 {
		return fmt.Errorf("price_ceiling_usd must be positive, got %v", cfg.PriceCeilingUSD)
	}
	if cfg.NativeBandLowUSD < 0 || cfg.NativeBandHighUSD < cfg.NativeBandLowUSD {
		return fmt.Errorf("native band out of order: [%v, %v]", cfg.NativeBandLowUSD, cfg.NativeBandHighUSD)
	}
	if cfg.AlertProfitTargetPct < 0 || cfg.AlertLossLimitPct < 0 {
		return errors.New("alert thresholds must not be negative")
	}
	if cfg.StartingBalanceSOL <= 0 {
		return fmt.Errorf("starting_balance_sol must be positive, got %v", cfg.StartingBalanceSOL)
	}
	return nil
}

// validateURLWithCache checks that raw parses with one of schemes. Results
// are cached per URL.
func validateURLWithCache(raw string, schemes ...string) error {
	key := raw + "|" + strings.Join(schemes, ",")
	if cached, ok := urlCache.Load(key); ok {
		if cached == nil {
			return nil
		}
		return cached.(error)
	}

	err := validateURL(raw, schemes)
	if err == nil {
		urlCache.Store(key, nil)
	} else {
		urlCache.Store(key, err)
	}
	return err
}

func validateURL(raw string, schemes []string) error {
	if raw == "" {
		return errors.New("URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("URL %q must use one of %v", raw, schemes)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Config) PollInterval() time.Duration    { return ms(c.PollIntervalMs) }
func (c *Config) PollTimeout() time.Duration     { return ms(c.PollTimeoutMs) }
func (c *Config) PersistDebounce() time.Duration { return ms(c.PersistDebounceMs) }
func (c *Config) RepriceInterval() time.Duration { return ms(c.RepriceIntervalMs) }
func (c *Config) NativeRefresh() time.Duration   { return ms(c.NativeRefreshMs) }

// Limits returns the price sanity limits.
func (c *Config) Limits() feed.Limits {
	return feed.Limits{
		PriceCeilingUSD:   c.PriceCeilingUSD,
		NativeBandLowUSD:  c.NativeBandLowUSD,
		NativeBandHighUSD: c.NativeBandHighUSD,
	}
}

// Arbiter returns the tick arbitration thresholds.
func (c *Config) Arbiter() feed.ArbiterConfig {
	return feed.ArbiterConfig{
		MinConfidence:  c.MinConfidence,
		HighConfidence: c.HighConfidence,
		MaxJumpPct:     c.MaxJumpPct,
		ChartPriority:  ms(c.ChartPriorityMs),
		StaleAfter:     ms(c.StaleAfterMs),
	}
}

// Alerts returns the position alert thresholds.
func (c *Config) Alerts() monitor.AlertConfig {
	return monitor.AlertConfig{
		ProfitTargetPercent: c.AlertProfitTargetPct,
		LossLimitPercent:    c.AlertLossLimitPct,
		Cooldown:            ms(c.AlertCooldownMs),
	}
}

// Market returns the HTTP market client settings.
func (c *Config) Market() feed.HTTPMarketConfig {
	return feed.HTTPMarketConfig{
		PairsURL:          c.MarketAPIURL,
		PriceURL:          c.PriceAPIURL,
		RequestsPerMinute: c.RequestsPerMinute,
		Timeout:           c.PollTimeout(),
	}
}
