package types

import "time"

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position 是虚拟账户中的一笔现货多头持仓。
// 同一交易对同时最多只有一笔 open 持仓。
type Position struct {
	ID           int64          `json:"id"`
	Symbol       string         `json:"symbol"`
	Quantity     float64        `json:"quantity"`
	EntryPrice   float64        `json:"entry_price"`
	EntryTime    time.Time      `json:"entry_time"`
	CurrentPrice float64        `json:"current_price"`
	StopLoss     float64        `json:"stop_loss,omitempty"`
	TakeProfit   float64        `json:"take_profit,omitempty"`
	Status       PositionStatus `json:"status"`
	ExitPrice    float64        `json:"exit_price,omitempty"`
	ExitTime     *time.Time     `json:"exit_time,omitempty"`
	PnL          float64        `json:"pnl"`
	EntryOrderID int64          `json:"entry_order_id,omitempty"`
	ExitOrderID  int64          `json:"exit_order_id,omitempty"`
}

// MarketValue 按当前标记价格计算持仓市值。
func (p Position) MarketValue() float64 {
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Quantity * price
}

// UnrealizedPnL 返回未实现盈亏(不含平仓手续费)。
func (p Position) UnrealizedPnL() float64 {
	if p.CurrentPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) * p.Quantity
}

// UnrealizedPnLPct 相对开仓成本的未实现收益率,百分数。
func (p Position) UnrealizedPnLPct() float64 {
	cost := p.EntryPrice * p.Quantity
	if cost == 0 {
		return 0
	}
	return p.UnrealizedPnL() / cost * 100
}
