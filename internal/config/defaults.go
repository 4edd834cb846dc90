package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":8080"
	defaultAppLogPath         = "data/logs/papertrade.log"
	defaultMarketName         = "binance"
	defaultMarketREST         = "https://api.binance.com"
	defaultExchangeTimeframe  = "1h"
	defaultExchangeLookback   = 100
	defaultTradingBalance     = 10000
	defaultTradingFeeRate     = 0.001
	defaultTradingMaxPct      = 0.2
	defaultTradingMaxOpen     = 5
	defaultStrategyActive     = "ema_sma_crossover"
	defaultSchedulerInterval  = 60
	defaultDatabasePath       = "data/papertrade.db"
	defaultCandleCacheDir     = "data/candles"
	defaultBacktestConcurrent = 2
	defaultBacktestTTLMinutes = 60
	defaultBacktestFetchRate  = 5
	defaultBacktestDays       = 30
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	if len(e.Symbols) == 0 {
		e.Symbols = []string{"BTC/USDT", "ETH/USDT"}
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.timeframe", &e.Timeframe, defaultExchangeTimeframe),
		fieldDefault{
			key:   "exchange.lookback",
			need:  func() bool { return e.Lookback <= 0 },
			apply: func() { e.Lookback = defaultExchangeLookback },
		},
	)
	for i := range e.Symbols {
		e.Symbols[i] = strings.ToUpper(strings.TrimSpace(e.Symbols[i]))
	}
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.initial_balance",
			need:  func() bool { return t.InitialBalance <= 0 },
			apply: func() { t.InitialBalance = defaultTradingBalance },
		},
		fieldDefault{
			key:   "trading.fee_rate",
			need:  func() bool { return t.FeeRate < 0 },
			apply: func() { t.FeeRate = defaultTradingFeeRate },
		},
		fieldDefault{
			key:   "trading.max_position_pct",
			need:  func() bool { return t.MaxPositionPct <= 0 || t.MaxPositionPct > 1 },
			apply: func() { t.MaxPositionPct = defaultTradingMaxPct },
		},
		fieldDefault{
			key:   "trading.max_open_positions",
			need:  func() bool { return t.MaxOpenPositions <= 0 },
			apply: func() { t.MaxOpenPositions = defaultTradingMaxOpen },
		},
	)
	// fee_rate 允许显式配置为 0 (无手续费模拟)
	if !keys.isSet("trading.fee_rate") && t.FeeRate == 0 {
		t.FeeRate = defaultTradingFeeRate
	}
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.active", &s.Active, defaultStrategyActive),
	)
	s.Active = strings.ToLower(strings.TrimSpace(s.Active))
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "scheduler.interval_seconds",
			need:  func() bool { return s.IntervalSeconds <= 0 },
			apply: func() { s.IntervalSeconds = defaultSchedulerInterval },
		},
		boolFieldDefault("scheduler.run_immediately", &s.RunImmediately, true),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("database.path", &d.Path, defaultDatabasePath),
		stringFieldDefault("database.candle_cache_dir", &d.CandleCacheDir, defaultCandleCacheDir),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultBacktestConcurrent },
		},
		fieldDefault{
			key:   "backtest.task_ttl_minutes",
			need:  func() bool { return b.TaskTTLMinutes <= 0 },
			apply: func() { b.TaskTTLMinutes = defaultBacktestTTLMinutes },
		},
		fieldDefault{
			key:   "backtest.fetch_per_second",
			need:  func() bool { return b.FetchPerSecond <= 0 },
			apply: func() { b.FetchPerSecond = defaultBacktestFetchRate },
		},
		fieldDefault{
			key:   "backtest.default_days",
			need:  func() bool { return b.DefaultDays <= 0 },
			apply: func() { b.DefaultDays = defaultBacktestDays },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
