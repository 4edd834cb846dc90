package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if len(e.Symbols) == 0 {
		return fmt.Errorf("exchange.symbols requires at least one symbol")
	}
	seen := make(map[string]bool, len(e.Symbols))
	for _, sym := range e.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("exchange.symbols contains empty symbol")
		}
		if seen[sym] {
			return fmt.Errorf("exchange.symbols contains duplicate symbol: %s", sym)
		}
		seen[sym] = true
	}
	if !IsValidInterval(e.Timeframe) {
		return fmt.Errorf("exchange.timeframe is invalid: %s", e.Timeframe)
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance must be > 0")
	}
	if t.FeeRate < 0 || t.FeeRate >= 1 {
		return fmt.Errorf("trading.fee_rate must be in [0, 1)")
	}
	if t.MaxPositionPct <= 0 || t.MaxPositionPct > 1 {
		return fmt.Errorf("trading.max_position_pct must be in (0, 1]")
	}
	if t.MaxOpenPositions <= 0 {
		return fmt.Errorf("trading.max_open_positions must be > 0")
	}
	if t.StopLossPct < 0 || t.StopLossPct >= 1 {
		return fmt.Errorf("trading.stop_loss_pct must be in [0, 1)")
	}
	if t.TakeProfitPct < 0 {
		return fmt.Errorf("trading.take_profit_pct must be >= 0")
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if strings.TrimSpace(s.Active) == "" {
		return fmt.Errorf("strategy.active cannot be empty")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.interval_seconds must be > 0")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.MaxConcurrent <= 0 {
		return fmt.Errorf("backtest.max_concurrent must be > 0")
	}
	if b.TaskTTLMinutes <= 0 {
		return fmt.Errorf("backtest.task_ttl_minutes must be > 0")
	}
	if b.FetchPerSecond <= 0 {
		return fmt.Errorf("backtest.fetch_per_second must be > 0")
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
