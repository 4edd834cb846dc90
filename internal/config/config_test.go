package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
app:
  env: dev
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Exchange.Symbols)
	assert.Equal(t, "1h", cfg.Exchange.Timeframe)
	assert.Equal(t, 100, cfg.Exchange.Lookback)
	assert.Equal(t, 10000.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 0.001, cfg.Trading.FeeRate)
	assert.Equal(t, 0.2, cfg.Trading.MaxPositionPct)
	assert.Equal(t, 5, cfg.Trading.MaxOpenPositions)
	assert.Equal(t, "ema_sma_crossover", cfg.Strategy.Active)
	assert.Equal(t, 60, cfg.Scheduler.IntervalSeconds)
	assert.True(t, cfg.Scheduler.RunImmediately)
	assert.Equal(t, "data/papertrade.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Backtest.MaxConcurrent)
	assert.Equal(t, 30, cfg.Backtest.DefaultDays)

	src := cfg.Market.ResolveActiveSource()
	assert.Equal(t, "binance", src.Name)
	assert.True(t, src.Enabled)
}

func TestLoadNormalizesSymbolsAndStrategy(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
exchange:
  symbols: [" btc/usdt ", "sol/usdt"]
  timeframe: 4h
strategy:
  active: " RSI "
  params:
    rsi:
      rsi_period: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC/USDT", "SOL/USDT"}, cfg.Exchange.Symbols)
	assert.Equal(t, "rsi", cfg.Strategy.Active)

	params := cfg.Strategy.ParamsFor("RSI")
	require.NotNil(t, params)
	assert.EqualValues(t, 7, params["rsi_period"])
	assert.Nil(t, cfg.Strategy.ParamsFor("combined"))
}

func TestLoadKeepsExplicitZeroFeeRate(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
trading:
  fee_rate: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Trading.FeeRate, "显式配置的 0 手续费不应被默认值覆盖")
}

func TestLoadValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "负初始资金",
			yaml: `
trading:
  initial_balance: -5
`,
			wantErr: "trading.initial_balance",
		},
		{
			name: "手续费率越界",
			yaml: `
trading:
  fee_rate: 1.5
`,
			wantErr: "trading.fee_rate",
		},
		{
			name: "止损比例越界",
			yaml: `
trading:
  stop_loss_pct: 1.2
`,
			wantErr: "trading.stop_loss_pct",
		},
		{
			name: "重复交易对",
			yaml: `
exchange:
  symbols: ["BTC/USDT", "btc/usdt"]
`,
			wantErr: "duplicate symbol",
		},
		{
			name: "非法周期",
			yaml: `
exchange:
  timeframe: abc
`,
			wantErr: "exchange.timeframe",
		},
		{
			name: "未知行情源",
			yaml: `
market:
  active_source: kraken
  sources:
    - name: binance
      enabled: true
      rest_base_url: https://api.binance.com
`,
			wantErr: "active_source",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, "config.yaml", tc.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadIncludeMerging(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
trading:
  initial_balance: 50000
  fee_rate: 0.002
scheduler:
  interval_seconds: 120
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
trading:
  fee_rate: 0.0005
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	// 主文件后合并,覆盖 include 中的同名键;未覆盖的键保留。
	assert.Equal(t, 0.0005, cfg.Trading.FeeRate)
	assert.Equal(t, 50000.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 120, cfg.Scheduler.IntervalSeconds)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeConfig(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("15m"))
	assert.True(t, IsValidInterval("1h"))
	assert.True(t, IsValidInterval("7d"))
	assert.False(t, IsValidInterval(""))
	assert.False(t, IsValidInterval("h"))
	assert.False(t, IsValidInterval("1x"))
	assert.False(t, IsValidInterval("1.5h"))
}

func TestResolveActiveSourceFallback(t *testing.T) {
	m := MarketConfig{
		ActiveSource: "gate",
		Sources: []MarketSource{
			{Name: "binance", Enabled: false, RESTBaseURL: "https://api.binance.com"},
			{Name: "gate", Enabled: true, RESTBaseURL: "https://api.gateio.ws"},
		},
	}
	assert.Equal(t, "gate", m.ResolveActiveSource().Name)

	// 无可用源时退回第一个。
	m.Sources[1].Enabled = false
	assert.Equal(t, "binance", m.ResolveActiveSource().Name)

	// 空配置兜底为 binance。
	assert.Equal(t, "binance", MarketConfig{}.ResolveActiveSource().Name)
}
