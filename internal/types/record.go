package types

import "time"

// TradeRecord 记录一次完整的往返交易(开仓 + 平仓),
// 在持仓平仓时一次性生成,Fees 为开仓与平仓手续费之和。
type TradeRecord struct {
	ID              int64     `json:"id"`
	Symbol          string    `json:"symbol"`
	Side            OrderSide `json:"side"`
	Quantity        float64   `json:"quantity"`
	EntryPrice      float64   `json:"entry_price"`
	ExitPrice       float64   `json:"exit_price"`
	EntryTime       time.Time `json:"entry_time"`
	ExitTime        time.Time `json:"exit_time"`
	PnL             float64   `json:"pnl"`
	PnLPct          float64   `json:"pnl_pct"`
	Fees            float64   `json:"fees"`
	Strategy        string    `json:"strategy_name,omitempty"`
	DurationMinutes int64     `json:"duration_minutes"`
}

// PortfolioSnapshot 是账户权益在某一时刻的快照,构成权益曲线。
// TotalPnL 相对初始资金计算。
type PortfolioSnapshot struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	TotalValue     float64   `json:"total_value"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	TotalPnL       float64   `json:"total_pnl"`
	TotalPnLPct    float64   `json:"total_pnl_pct"`
}

// PortfolioSummary 汇总账户当前状态,供 API 与日志输出。
type PortfolioSummary struct {
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	TotalValue     float64   `json:"total_value"`
	InitialBalance float64   `json:"initial_balance"`
	TotalReturn    float64   `json:"total_return"`
	TotalReturnPct float64   `json:"total_return_pct"`
	OpenPositions  int       `json:"open_positions"`
	PendingOrders  int       `json:"pending_orders"`
	UpdatedAt      time.Time `json:"updated_at"`
}
