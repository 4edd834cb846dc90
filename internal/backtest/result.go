package backtest

import (
	"papertrade/internal/types"
)

// EquityPoint 是回测权益曲线上的一个采样点。
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Result 汇总一次回测的绩效。
type Result struct {
	Strategy       string              `json:"strategy"`
	Params         map[string]any      `json:"params,omitempty"`
	Symbols        []string            `json:"symbols"`
	Timeframe      string              `json:"timeframe"`
	Candles        int                 `json:"candles"`
	InitialBalance float64             `json:"initial_balance"`
	FinalValue     float64             `json:"final_value"`
	TotalReturnPct float64             `json:"total_return_pct"`
	WinRatePct     float64             `json:"win_rate_pct"`
	AvgTradePnL    float64             `json:"avg_trade_pnl"`
	MaxDrawdownPct float64             `json:"max_drawdown_pct"`
	TradeCount     int                 `json:"trade_count"`
	Trades         []types.TradeRecord `json:"trades,omitempty"`
	EquityCurve    []EquityPoint       `json:"equity_curve,omitempty"`
}

// maxDrawdownPct 计算权益曲线峰谷最大回撤百分比。
func maxDrawdownPct(curve []EquityPoint) float64 {
	peak := 0.0
	maxDD := 0.0
	for _, pt := range curve {
		if pt.Value > peak {
			peak = pt.Value
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - pt.Value) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// summarizeTrades 统计往返交易的胜率与平均盈亏。
func summarizeTrades(trades []types.TradeRecord) (winRatePct, avgPnL float64) {
	if len(trades) == 0 {
		return 0, 0
	}
	winning := 0
	total := 0.0
	for _, tr := range trades {
		total += tr.PnL
		if tr.PnL > 0 {
			winning++
		}
	}
	return float64(winning) / float64(len(trades)) * 100, total / float64(len(trades))
}
