package config

import "strings"

// Config 是 papertrade 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Trading   TradingConfig   `toml:"trading"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Database  DatabaseConfig  `toml:"database"`
	Backtest  BacktestConfig  `toml:"backtest"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ExchangeConfig 描述模拟盘跟踪的交易对与周期。
type ExchangeConfig struct {
	Symbols   []string `toml:"symbols"`   // "BTC/USDT" 形式
	Timeframe string   `toml:"timeframe"` // K线周期,如 "1h"
	Lookback  int      `toml:"lookback"`  // 每轮拉取的K线数量
}

// TradingConfig 控制虚拟账户的资金与风控参数。
type TradingConfig struct {
	InitialBalance   float64 `toml:"initial_balance"`    // 初始报价币余额
	FeeRate          float64 `toml:"fee_rate"`           // 成交手续费率,如 0.001
	MaxPositionPct   float64 `toml:"max_position_pct"`   // 单笔最大占用账户比例 0~1
	MaxOpenPositions int     `toml:"max_open_positions"` // 同时持仓的最大交易对数
	StopLossPct      float64 `toml:"stop_loss_pct"`      // 开仓后自动止损比例,0 关闭
	TakeProfitPct    float64 `toml:"take_profit_pct"`    // 开仓后自动止盈比例,0 关闭
}

// StrategyConfig 指定活跃策略及各策略的参数表。
// params 按策略名分组,由策略工厂用 mapstructure 解码成各自的参数结构。
type StrategyConfig struct {
	Active string                    `toml:"active"`
	Params map[string]map[string]any `toml:"params"`
}

// ParamsFor 返回指定策略的参数表,未配置时返回 nil。
func (s StrategyConfig) ParamsFor(name string) map[string]any {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(s.Params) == 0 {
		return nil
	}
	for k, v := range s.Params {
		if strings.ToLower(strings.TrimSpace(k)) == name {
			return v
		}
	}
	return nil
}

type SchedulerConfig struct {
	IntervalSeconds int  `toml:"interval_seconds"`
	RunImmediately  bool `toml:"run_immediately"`
}

type DatabaseConfig struct {
	Path           string `toml:"path"`             // 交易数据库 (sqlite)
	CandleCacheDir string `toml:"candle_cache_dir"` // 回测K线缓存目录
}

type BacktestConfig struct {
	MaxConcurrent  int     `toml:"max_concurrent"`   // 并发回测任务上限
	TaskTTLMinutes int     `toml:"task_ttl_minutes"` // 完成任务的保留时长
	FetchPerSecond float64 `toml:"fetch_per_second"` // 历史K线拉取限速 (请求/秒)
	DefaultDays    int     `toml:"default_days"`
	ReportDir      string  `toml:"report_dir"` // 回测报告输出目录,空则不生成
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://api.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
