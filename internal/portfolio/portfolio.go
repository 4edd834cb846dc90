package portfolio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"papertrade/internal/logger"
	"papertrade/internal/pkg/trading"
	"papertrade/internal/types"
)

// 资金比较时的浮点容差
const cashEpsilon = 1e-9

// Store 是组合状态持久化所需的最小接口,由 gormstore.Store 实现。
type Store interface {
	InsertOrder(ctx context.Context, order *types.Order) error
	UpdateOrder(ctx context.Context, order types.Order) error
	InsertPosition(ctx context.Context, pos *types.Position) error
	UpdatePosition(ctx context.Context, pos types.Position) error
	InsertTradeRecord(ctx context.Context, rec *types.TradeRecord) error
	InsertSnapshot(ctx context.Context, snap *types.PortfolioSnapshot) error
	OpenPositions(ctx context.Context) ([]types.Position, error)
	PendingOrders(ctx context.Context) ([]types.Order, error)
}

// Config 控制虚拟账户的资金与风控参数。
type Config struct {
	InitialBalance   float64
	FeeRate          float64
	MaxPositionPct   float64
	MaxOpenPositions int
}

func (c Config) validate() error {
	if c.InitialBalance <= 0 {
		return fmt.Errorf("portfolio: initial balance 必须大于 0")
	}
	if c.FeeRate < 0 || c.FeeRate >= 1 {
		return fmt.Errorf("portfolio: fee rate 必须在 [0, 1) 区间")
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return fmt.Errorf("portfolio: max position pct 必须在 (0, 1] 区间")
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("portfolio: max open positions 必须大于 0")
	}
	return nil
}

// Portfolio 是单账户虚拟交易所:维护现金、持仓与挂单,
// 市价单同步成交,限价/止损单在行情推进时检查触发。
// 所有导出方法内部加锁,非导出辅助方法假定已持锁。
type Portfolio struct {
	mu    sync.Mutex
	cfg   Config
	store Store

	cash         float64
	positions    map[string]*types.Position // symbol -> open position
	pending      []*types.Order
	strategyName string
}

// New 构建组合并从存储恢复未平仓持仓与挂单。
// 恢复后现金 = 初始资金 − Σ(开仓名义金额 + 开仓手续费)。
func New(cfg Config, store Store) (*Portfolio, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("portfolio: store 不能为空")
	}
	p := &Portfolio{
		cfg:       cfg,
		store:     store,
		cash:      cfg.InitialBalance,
		positions: make(map[string]*types.Position),
	}
	ctx := context.Background()
	open, err := store.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("恢复持仓失败: %w", err)
	}
	for i := range open {
		pos := open[i]
		p.positions[pos.Symbol] = &pos
		cost := pos.EntryPrice * pos.Quantity
		p.cash -= cost + cost*cfg.FeeRate
	}
	pendingOrders, err := store.PendingOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("恢复挂单失败: %w", err)
	}
	for i := range pendingOrders {
		order := pendingOrders[i]
		p.pending = append(p.pending, &order)
	}
	if len(p.positions) > 0 || len(p.pending) > 0 {
		logger.Infof("[portfolio] 状态已恢复: %d 笔持仓 %d 笔挂单 cash=%.2f",
			len(p.positions), len(p.pending), p.cash)
	}
	return p, nil
}

// SetStrategyName 设置新订单默认携带的策略名。
func (p *Portfolio) SetStrategyName(name string) {
	p.mu.Lock()
	p.strategyName = strings.TrimSpace(name)
	p.mu.Unlock()
}

// SubmitOrder 提交一笔委托。市价单按 currentPrice 同步成交;
// 限价/止损单进入挂单队列。资金或持仓不足不是错误,订单转为 cancelled。
func (p *Portfolio) SubmitOrder(ctx context.Context, order *types.Order, currentPrice float64) error {
	if order == nil {
		return fmt.Errorf("order 不能为空")
	}
	order.Symbol = strings.ToUpper(strings.TrimSpace(order.Symbol))
	if order.Symbol == "" {
		return fmt.Errorf("order symbol 不能为空")
	}
	if order.Quantity <= 0 {
		return fmt.Errorf("order quantity 必须大于 0")
	}
	switch order.Type {
	case types.OrderMarket:
		if currentPrice <= 0 {
			return fmt.Errorf("市价单需要当前价格")
		}
	case types.OrderLimit, types.OrderStopLoss:
		if order.Price <= 0 {
			return fmt.Errorf("%s 单需要触发价", order.Type)
		}
	default:
		return fmt.Errorf("未知订单类型: %s", order.Type)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order.Status = types.OrderPending
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if order.StrategyName == "" {
		order.StrategyName = p.strategyName
	}
	if err := p.store.InsertOrder(ctx, order); err != nil {
		return fmt.Errorf("写入订单失败: %w", err)
	}

	if order.Type == types.OrderMarket {
		p.executeFill(ctx, order, currentPrice)
		return nil
	}
	p.pending = append(p.pending, order)
	logger.Infof("[portfolio] 挂单已接受 #%d %s %s %s qty=%.6f trigger=%.4f",
		order.ID, order.Symbol, order.Type, order.Side, order.Quantity, order.Price)
	return nil
}

// executeFill 按 price 成交一笔订单。调用方持锁。
func (p *Portfolio) executeFill(ctx context.Context, order *types.Order, price float64) {
	fee := price * order.Quantity * p.cfg.FeeRate

	switch order.Side {
	case types.SideBuy:
		cost := price*order.Quantity + fee
		if cost > p.cash+cashEpsilon {
			logger.Warnf("[portfolio] 资金不足,取消买单 #%d %s cost=%.2f cash=%.2f",
				order.ID, order.Symbol, cost, p.cash)
			p.cancelOrderLocked(ctx, order)
			return
		}
		if _, exists := p.positions[order.Symbol]; exists {
			logger.Warnf("[portfolio] %s 已有持仓,取消买单 #%d", order.Symbol, order.ID)
			p.cancelOrderLocked(ctx, order)
			return
		}
		p.cash -= cost
		pos := &types.Position{
			Symbol:       order.Symbol,
			Quantity:     order.Quantity,
			EntryPrice:   price,
			EntryTime:    time.Now(),
			CurrentPrice: price,
			Status:       types.PositionOpen,
			EntryOrderID: order.ID,
		}
		if err := p.store.InsertPosition(ctx, pos); err != nil {
			logger.Errorf("[portfolio] 写入持仓失败: %v", err)
		}
		p.positions[order.Symbol] = pos
		p.markFilled(ctx, order, price, fee)
		logger.Infof("[portfolio] 买入成交 #%d %s qty=%.6f price=%.4f fee=%.4f cash=%.2f",
			order.ID, order.Symbol, order.Quantity, price, fee, p.cash)

	case types.SideSell:
		pos, exists := p.positions[order.Symbol]
		if !exists {
			logger.Warnf("[portfolio] %s 无持仓,取消卖单 #%d", order.Symbol, order.ID)
			p.cancelOrderLocked(ctx, order)
			return
		}
		qty := order.Quantity
		if qty > pos.Quantity {
			qty = pos.Quantity
		}
		proceeds := price*qty - fee
		p.cash += proceeds
		pnl := p.closePosition(ctx, pos, order, price, fee)
		p.markFilled(ctx, order, price, fee)
		logger.Infof("[portfolio] 卖出成交 #%d %s qty=%.6f price=%.4f fee=%.4f pnl=%.4f cash=%.2f",
			order.ID, order.Symbol, qty, price, fee, pnl, p.cash)
	}
}

// closePosition 结算并移除持仓,同时生成唯一一条往返成交记录。
// 成交记录在且只在平仓时写入,手续费为开平仓合计。调用方持锁。
func (p *Portfolio) closePosition(ctx context.Context, pos *types.Position, order *types.Order, exitPrice, exitFee float64) (pnl float64) {
	entryFee := pos.EntryPrice * pos.Quantity * p.cfg.FeeRate
	pnl = (exitPrice-pos.EntryPrice)*pos.Quantity - entryFee - exitFee
	pnlPct := 0.0
	if pos.EntryPrice > 0 {
		pnlPct = (exitPrice/pos.EntryPrice - 1) * 100
	}
	now := time.Now()
	pos.Status = types.PositionClosed
	pos.ExitPrice = exitPrice
	pos.ExitTime = &now
	pos.CurrentPrice = exitPrice
	pos.PnL = pnl
	pos.ExitOrderID = order.ID
	if err := p.store.UpdatePosition(ctx, *pos); err != nil {
		logger.Errorf("[portfolio] 更新持仓失败: %v", err)
	}
	delete(p.positions, pos.Symbol)

	rec := &types.TradeRecord{
		Symbol:          pos.Symbol,
		Side:            types.SideBuy,
		Quantity:        pos.Quantity,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exitPrice,
		EntryTime:       pos.EntryTime,
		ExitTime:        now,
		PnL:             pnl,
		PnLPct:          pnlPct,
		Fees:            entryFee + exitFee,
		Strategy:        order.StrategyName,
		DurationMinutes: int64(now.Sub(pos.EntryTime).Minutes()),
	}
	if err := p.store.InsertTradeRecord(ctx, rec); err != nil {
		logger.Errorf("[portfolio] 写入成交记录失败: %v", err)
	}
	return pnl
}

func (p *Portfolio) markFilled(ctx context.Context, order *types.Order, price, fee float64) {
	now := time.Now()
	order.Status = types.OrderFilled
	order.FilledAt = &now
	order.FilledPrice = price
	order.Fee = fee
	if err := p.store.UpdateOrder(ctx, *order); err != nil {
		logger.Errorf("[portfolio] 更新订单失败: %v", err)
	}
}

// cancelOrderLocked 把订单置为 cancelled 并持久化。调用方持锁。
func (p *Portfolio) cancelOrderLocked(ctx context.Context, order *types.Order) {
	order.Status = types.OrderCancelled
	if err := p.store.UpdateOrder(ctx, *order); err != nil {
		logger.Errorf("[portfolio] 更新订单失败: %v", err)
	}
}

// CancelOrder 取消一笔挂单。
func (p *Portfolio) CancelOrder(ctx context.Context, orderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, order := range p.pending {
		if order.ID == orderID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			p.cancelOrderLocked(ctx, order)
			logger.Infof("[portfolio] 挂单已取消 #%d %s", order.ID, order.Symbol)
			return nil
		}
	}
	return fmt.Errorf("挂单不存在: %d", orderID)
}

// CheckPendingOrders 用最新价格检查挂单触发。
// 触发后按当前标记价成交,这是刻意的简化(不模拟盘口滑点)。
func (p *Portfolio) CheckPendingOrders(ctx context.Context, prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := p.pending[:0]
	for _, order := range p.pending {
		price, ok := prices[order.Symbol]
		if !ok || price <= 0 {
			remaining = append(remaining, order)
			continue
		}
		if !shouldTrigger(order, price) {
			remaining = append(remaining, order)
			continue
		}
		logger.Infof("[portfolio] 挂单触发 #%d %s %s trigger=%.4f mark=%.4f",
			order.ID, order.Symbol, order.Type, order.Price, price)
		p.executeFill(ctx, order, price)
	}
	p.pending = remaining
}

func shouldTrigger(order *types.Order, price float64) bool {
	switch order.Type {
	case types.OrderLimit:
		if order.Side == types.SideBuy {
			return price <= order.Price
		}
		return price >= order.Price
	case types.OrderStopLoss:
		return price <= order.Price
	default:
		return false
	}
}

// UpdatePositions 按最新价格做标记市值,再检查止损/止盈自动平仓。
func (p *Portfolio) UpdatePositions(ctx context.Context, prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pos := range p.positions {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			continue
		}
		pos.CurrentPrice = price
		if err := p.store.UpdatePosition(ctx, *pos); err != nil {
			logger.Errorf("[portfolio] 更新持仓失败: %v", err)
		}
	}

	// 止损/止盈在标记后检查,按当前价自动平仓
	for _, pos := range p.snapshotPositions() {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			continue
		}
		live, exists := p.positions[pos.Symbol]
		if !exists {
			continue
		}
		switch {
		case live.StopLoss > 0 && price <= live.StopLoss:
			logger.Infof("[portfolio] 触发止损 %s price=%.4f stop=%.4f", live.Symbol, price, live.StopLoss)
			p.autoClose(ctx, live, price, "auto_stop_loss")
		case live.TakeProfit > 0 && price >= live.TakeProfit:
			logger.Infof("[portfolio] 触发止盈 %s price=%.4f target=%.4f", live.Symbol, price, live.TakeProfit)
			p.autoClose(ctx, live, price, "auto_take_profit")
		}
	}
}

// autoClose 用内部市价卖单平掉持仓。调用方持锁。
func (p *Portfolio) autoClose(ctx context.Context, pos *types.Position, price float64, reason string) {
	order := &types.Order{
		Symbol:       pos.Symbol,
		Type:         types.OrderMarket,
		Side:         types.SideSell,
		Quantity:     pos.Quantity,
		Status:       types.OrderPending,
		CreatedAt:    time.Now(),
		StrategyName: reason,
	}
	if err := p.store.InsertOrder(ctx, order); err != nil {
		logger.Errorf("[portfolio] 写入自动平仓订单失败: %v", err)
		return
	}
	p.executeFill(ctx, order, price)
}

// SetPositionExits 为已开仓位挂上止损/止盈价。
func (p *Portfolio) SetPositionExits(ctx context.Context, symbol string, stopLoss, takeProfit float64) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return fmt.Errorf("无持仓: %s", symbol)
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	if err := p.store.UpdatePosition(ctx, *pos); err != nil {
		return fmt.Errorf("更新持仓失败: %w", err)
	}
	return nil
}

// CalculatePositionSize 按信号方向计算下单数量。
// 卖出返回全部持仓;买入在达到持仓上限或已持有该交易对时返回 0。
func (p *Portfolio) CalculatePositionSize(symbol string, price float64, action types.SignalAction) float64 {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	p.mu.Lock()
	defer p.mu.Unlock()

	if action == types.SignalSell {
		if pos, ok := p.positions[symbol]; ok {
			return pos.Quantity
		}
		return 0
	}
	if action != types.SignalBuy {
		return 0
	}
	if _, ok := p.positions[symbol]; ok {
		return 0
	}
	if len(p.positions) >= p.cfg.MaxOpenPositions {
		return 0
	}
	return trading.PositionQuantity(p.totalValue(), p.cash, price, p.cfg.MaxPositionPct, p.cfg.FeeRate)
}

// totalValue 返回现金 + 持仓市值。调用方持锁。
func (p *Portfolio) totalValue() float64 {
	total := p.cash
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

// snapshotPositions 返回当前持仓的浅拷贝列表。调用方持锁。
func (p *Portfolio) snapshotPositions() []types.Position {
	out := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

// TakeSnapshot 写入一条权益快照,总盈亏相对初始资金计算。
func (p *Portfolio) TakeSnapshot(ctx context.Context) (types.PortfolioSnapshot, error) {
	p.mu.Lock()
	total := p.totalValue()
	snap := types.PortfolioSnapshot{
		Timestamp:      time.Now(),
		TotalValue:     total,
		Cash:           p.cash,
		PositionsValue: total - p.cash,
		TotalPnL:       total - p.cfg.InitialBalance,
		TotalPnLPct:    (total/p.cfg.InitialBalance - 1) * 100,
	}
	p.mu.Unlock()
	if err := p.store.InsertSnapshot(ctx, &snap); err != nil {
		return types.PortfolioSnapshot{}, fmt.Errorf("写入快照失败: %w", err)
	}
	return snap, nil
}

// Summary 汇总账户当前状态。
func (p *Portfolio) Summary() types.PortfolioSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.totalValue()
	ret := total - p.cfg.InitialBalance
	return types.PortfolioSummary{
		Cash:           p.cash,
		PositionsValue: total - p.cash,
		TotalValue:     total,
		InitialBalance: p.cfg.InitialBalance,
		TotalReturn:    ret,
		TotalReturnPct: ret / p.cfg.InitialBalance * 100,
		OpenPositions:  len(p.positions),
		PendingOrders:  len(p.pending),
		UpdatedAt:      time.Now(),
	}
}

// Cash 返回当前可用现金。
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// TotalValue 返回账户总权益。
func (p *Portfolio) TotalValue() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalValue()
}

// Positions 返回开仓持仓的拷贝,key 为交易对。
func (p *Portfolio) Positions() map[string]*types.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*types.Position, len(p.positions))
	for sym, pos := range p.positions {
		cp := *pos
		out[sym] = &cp
	}
	return out
}

// Position 返回指定交易对的持仓拷贝。
func (p *Portfolio) Position(symbol string) (types.Position, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// PendingOrders 返回挂单拷贝。
func (p *Portfolio) PendingOrders() []types.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Order, 0, len(p.pending))
	for _, order := range p.pending {
		out = append(out, *order)
	}
	return out
}
