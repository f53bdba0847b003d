package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
	"github.com/rovshanmuradov/solana-papertrader/internal/monitor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, feed.DefaultPairsURL, cfg.MarketAPIURL)
	assert.Equal(t, "So11111111111111111111111111111111111111112", cfg.NativeMint)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 5*time.Second, cfg.PersistDebounce())
	assert.Equal(t, 15*time.Second, cfg.RepriceInterval())
	assert.Equal(t, 10.0, cfg.StartingBalanceSOL)
	assert.Equal(t, feed.DefaultLimits(), cfg.Limits())
	assert.Equal(t, feed.DefaultArbiterConfig(), cfg.Arbiter())
	assert.Equal(t, monitor.DefaultAlertConfig(), cfg.Alerts())
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "overrides",
			content: `{
				"market_api_url": "https://proxy.local/dex",
				"realtime_ws_url": "wss://observer.local/ticks",
				"poll_interval_ms": 250,
				"price_ceiling_usd": 5000,
				"starting_balance_sol": 3.5,
				"debug_logging": true
			}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://proxy.local/dex", cfg.Market().PairsURL)
				assert.Equal(t, "wss://observer.local/ticks", cfg.RealtimeWSURL)
				assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
				assert.Equal(t, 5000.0, cfg.Limits().PriceCeilingUSD)
				assert.Equal(t, 3.5, cfg.StartingBalanceSOL)
				assert.True(t, cfg.DebugLogging)
			},
		},
		{name: "bad market scheme", content: `{"market_api_url": "ftp://proxy.local"}`, wantErr: true},
		{name: "websocket url over http", content: `{"realtime_ws_url": "https://observer.local"}`, wantErr: true},
		{name: "bad native mint", content: `{"native_mint": "not-a-key"}`, wantErr: true},
		{name: "negative poll interval", content: `{"poll_interval_ms": -1}`, wantErr: true},
		{name: "band out of order", content: `{"native_band_low_usd": 600}`, wantErr: true},
		{name: "confidence out of order", content: `{"min_confidence": 4}`, wantErr: true},
		{name: "negative alert threshold", content: `{"alert_loss_limit_pct": -5}`, wantErr: true},
		{name: "zero balance", content: `{"starting_balance_sol": 0}`, wantErr: true},
		{name: "malformed json", content: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadConfigEnvironmentOverride(t *testing.T) {
	t.Setenv("PAPER_TRADER_STARTING_BALANCE_SOL", "42")
	t.Setenv("PAPER_TRADER_DB_PATH", "/tmp/override.db")

	cfg, err := LoadConfig(writeConfig(t, `{"starting_balance_sol": 3}`))
	require.NoError(t, err)
	assert.Equal(t, 42.0, cfg.StartingBalanceSOL)
	assert.Equal(t, "/tmp/override.db", cfg.DBPath)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestValidateURLWithCache(t *testing.T) {
	require.NoError(t, validateURLWithCache("https://a.example", "https"))
	require.NoError(t, validateURLWithCache("https://a.example", "https"))
	assert.Error(t, validateURLWithCache("https://a.example", "wss"))
	assert.Error(t, validateURLWithCache("", "https"))
	assert.Error(t, validateURLWithCache("https://", "https"))
}
