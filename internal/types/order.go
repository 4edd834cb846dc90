package types

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderMarket   OrderType = "market"
	OrderLimit    OrderType = "limit"
	OrderStopLoss OrderType = "stop_loss"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Order 是提交给虚拟交易所的一笔委托。
// 市价单的 Price 为 0;限价/止损单的 Price 是触发价。
// StrategyName 标记下单来源(策略名或 auto_stop_loss / auto_take_profit)。
type Order struct {
	ID           int64       `json:"id"`
	Symbol       string      `json:"symbol"`
	Type         OrderType   `json:"type"`
	Side         OrderSide   `json:"side"`
	Quantity     float64     `json:"quantity"`
	Price        float64     `json:"price,omitempty"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	FilledAt     *time.Time  `json:"filled_at,omitempty"`
	FilledPrice  float64     `json:"filled_price,omitempty"`
	Fee          float64     `json:"fee,omitempty"`
	StrategyName string      `json:"strategy_name,omitempty"`
}
