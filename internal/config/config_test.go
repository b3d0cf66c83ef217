package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
binance:
  testnet: true
  testnet_api_key: "tk"
  testnet_api_secret: "ts"
advisory:
  api_key: "sk-test"
trading:
  instruments: ["btcusdt", "ETHUSDT"]
  tick_interval: 60s
  timeframes:
    - name: 1d
      interval: 1d
      limit: 100
    - name: 5m
      interval: 5m
      limit: 200
risk:
  max_daily_trades: 4
`

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Instruments)
	assert.Equal(t, 60*time.Second, cfg.Trading.TickInterval)
	assert.Equal(t, market.ProductSpot, cfg.Trading.ProductMode)
	assert.False(t, cfg.Trading.AllowShort)

	require.Len(t, cfg.Trading.Timeframes, 2)
	assert.Equal(t, "5m", cfg.Trading.Timeframes[0].Name)
	assert.Equal(t, 5*time.Minute, cfg.Trading.Timeframes[0].Duration)
	assert.Equal(t, "1d", cfg.Trading.Timeframes[1].Name)

	assert.Equal(t, 4, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 0.6, cfg.Risk.MinConfidence)
	assert.Equal(t, 3, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, 20.0, cfg.Risk.MaxPairExposure)

	key, secret := cfg.Binance.Credentials()
	assert.Equal(t, "tk", key)
	assert.Equal(t, "ts", secret)
	assert.True(t, cfg.Sandbox())
	assert.Equal(t, 20.0, cfg.Binance.RateLimit)
	assert.Equal(t, "deepseek-chat", cfg.Advisory.Model)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TRADING_PAIRS", "SOLUSDT")
	t.Setenv("AI_CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("TRADING_ALLOW_SHORT", "true")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT"}, cfg.Trading.Instruments)
	assert.Equal(t, 0.75, cfg.Risk.MinConfidence)
	assert.True(t, cfg.Trading.AllowShort)
}

func TestLoadConfig_MissingCredentials(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{
			name: "advisory key",
			body: "binance:\n  testnet_api_key: a\n  testnet_api_secret: b\n",
		},
		{
			name: "binance keys",
			body: "advisory:\n  api_key: x\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidConfig))
		})
	}
}

func TestLoadConfig_DryRunNeedsNoExchangeKeys(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "advisory:\n  api_key: x\ntrading:\n  dry_run: true\nbinance:\n  testnet: false\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Sandbox())
	assert.Len(t, cfg.Trading.Timeframes, 4)
}

func TestLoadConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "short timeframe history", body: "trading:\n  timeframes:\n    - name: 5m\n      limit: 10\n"},
		{name: "bad interval", body: "trading:\n  timeframes:\n    - name: 5x\n      limit: 100\n"},
		{name: "bad product mode", body: "trading:\n  product_mode: futures\n"},
		{name: "confidence out of range", body: "risk:\n  min_confidence: 1.5\n"},
		{name: "ema windows inverted", body: "indicators:\n  ema_short: 30\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "advisory:\n  api_key: x\nbinance:\n  testnet_api_key: a\n  testnet_api_secret: b\n"+tc.body))
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidConfig))
		})
	}
}
