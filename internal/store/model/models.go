package model

import "gorm.io/datatypes"

// 时间列统一存 RFC3339Nano 文本,跨进程重启无损往返。

type OrderModel struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	Symbol       string  `gorm:"column:symbol;index"`
	Type         string  `gorm:"column:order_type"`
	Side         string  `gorm:"column:side"`
	Quantity     float64 `gorm:"column:quantity"`
	Price        float64 `gorm:"column:price"`
	Status       string  `gorm:"column:status;index"`
	CreatedAt    string  `gorm:"column:created_at"`
	FilledAt     *string `gorm:"column:filled_at"`
	FilledPrice  float64 `gorm:"column:filled_price"`
	Fee          float64 `gorm:"column:fee"`
	StrategyName string  `gorm:"column:strategy_name"`
}

func (OrderModel) TableName() string { return "orders" }

type PositionModel struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	Symbol       string  `gorm:"column:symbol;index"`
	Quantity     float64 `gorm:"column:quantity"`
	EntryPrice   float64 `gorm:"column:entry_price"`
	EntryTime    string  `gorm:"column:entry_time"`
	CurrentPrice float64 `gorm:"column:current_price"`
	StopLoss     float64 `gorm:"column:stop_loss"`
	TakeProfit   float64 `gorm:"column:take_profit"`
	Status       string  `gorm:"column:status;index"`
	ExitPrice    float64 `gorm:"column:exit_price"`
	ExitTime     *string `gorm:"column:exit_time"`
	PnL          float64 `gorm:"column:pnl"`
	EntryOrderID int64   `gorm:"column:entry_order_id"`
	ExitOrderID  int64   `gorm:"column:exit_order_id"`
}

func (PositionModel) TableName() string { return "positions" }

type SnapshotModel struct {
	ID             int64   `gorm:"column:id;primaryKey"`
	Timestamp      string  `gorm:"column:timestamp;index"`
	TotalValue     float64 `gorm:"column:total_value"`
	Cash           float64 `gorm:"column:cash"`
	PositionsValue float64 `gorm:"column:positions_value"`
	TotalPnL       float64 `gorm:"column:total_pnl"`
	TotalPnLPct    float64 `gorm:"column:total_pnl_pct"`
}

func (SnapshotModel) TableName() string { return "portfolio_snapshots" }

// TradeRecordModel 每行是一次完整往返,fees 为开平仓手续费合计。
type TradeRecordModel struct {
	ID              int64   `gorm:"column:id;primaryKey"`
	Symbol          string  `gorm:"column:symbol;index"`
	Side            string  `gorm:"column:side"`
	Quantity        float64 `gorm:"column:quantity"`
	EntryPrice      float64 `gorm:"column:entry_price"`
	ExitPrice       float64 `gorm:"column:exit_price"`
	EntryTime       string  `gorm:"column:entry_time"`
	ExitTime        string  `gorm:"column:exit_time;index"`
	PnL             float64 `gorm:"column:pnl"`
	PnLPct          float64 `gorm:"column:pnl_pct"`
	Fees            float64 `gorm:"column:fees"`
	Strategy        string  `gorm:"column:strategy_name"`
	DurationMinutes int64   `gorm:"column:duration_minutes"`
}

func (TradeRecordModel) TableName() string { return "trade_records" }

// StrategyChangeModel 记录运行期策略切换的审计流水。
type StrategyChangeModel struct {
	ID         int64          `gorm:"column:id;primaryKey"`
	OldName    string         `gorm:"column:old_name"`
	NewName    string         `gorm:"column:new_name"`
	ParamsJSON datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Source     string         `gorm:"column:source"`
	CreatedAt  string         `gorm:"column:created_at"`
}

func (StrategyChangeModel) TableName() string { return "strategy_changes" }
