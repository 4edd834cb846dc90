package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"papertrade/internal/logger"
	"papertrade/internal/market"
	"papertrade/internal/portfolio"
	"papertrade/internal/scheduler"
	"papertrade/internal/store/gormstore"
	"papertrade/internal/strategy"
	"papertrade/internal/types"
)

const (
	StatusStopped = "stopped"
	StatusRunning = "running"
)

const (
	defaultFetchRetries = 3
	defaultRetryDelay   = 5 * time.Second
)

// Config 控制实盘模拟循环。
type Config struct {
	Symbols        []string
	Timeframe      string
	Lookback       int
	Interval       time.Duration
	RunImmediately bool
	StopLossPct    float64
	TakeProfitPct  float64
}

// AuditStore 记录策略切换,由 gormstore.Store 实现。
type AuditStore interface {
	InsertStrategyChange(ctx context.Context, change gormstore.StrategyChange) error
}

// Engine 驱动模拟盘主循环:按周期拉取行情、推进组合、执行策略信号。
// tick 之间用 TryLock 合并,一次 tick 卡住时后续周期直接跳过。
type Engine struct {
	cfg    Config
	source market.Source
	pf     *portfolio.Portfolio
	audit  AuditStore

	fetchRetries int
	retryDelay   time.Duration

	mu       sync.Mutex
	strat    strategy.Strategy
	status   string
	prices   map[string]float64
	pairData map[string]strategy.Series
	lastTick time.Time
	lastErr  string

	tickMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, source market.Source, pf *portfolio.Portfolio, strat strategy.Strategy, audit AuditStore) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("engine: source 不能为空")
	}
	if pf == nil {
		return nil, fmt.Errorf("engine: portfolio 不能为空")
	}
	if strat == nil {
		return nil, fmt.Errorf("engine: strategy 不能为空")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("engine: symbols 不能为空")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 100
	}
	pf.SetStrategyName(strat.Name())
	return &Engine{
		cfg:          cfg,
		source:       source,
		pf:           pf,
		audit:        audit,
		fetchRetries: defaultFetchRetries,
		retryDelay:   defaultRetryDelay,
		strat:        strat,
		status:       StatusStopped,
		prices:       make(map[string]float64),
		pairData:     make(map[string]strategy.Series),
	}, nil
}

// Start 启动主循环。已在运行时返回错误。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status == StatusRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine 已在运行")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.status = StatusRunning
	e.mu.Unlock()

	logger.Infof("[engine] 启动: %d 个交易对 timeframe=%s interval=%s",
		len(e.cfg.Symbols), e.cfg.Timeframe, e.cfg.Interval)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		sched := scheduler.NewIntervalScheduler(loopCtx, e.cfg.Interval, 0)
		sched.RunImmediately = e.cfg.RunImmediately
		sched.Start(func() { e.Tick(loopCtx) })
		e.mu.Lock()
		e.status = StatusStopped
		e.mu.Unlock()
	}()
	return nil
}

// Stop 取消循环并等待进行中的 tick 结束。
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.mu.Lock()
	e.status = StatusStopped
	e.mu.Unlock()
	logger.Infof("[engine] 已停止")
}

// Tick 执行一轮完整的交易循环。上一轮还在执行时直接跳过。
// 任何错误只记录日志,不中断调度。
func (e *Engine) Tick(ctx context.Context) {
	if !e.tickMu.TryLock() {
		logger.Warnf("[engine] 上一轮 tick 未结束,跳过本轮")
		return
	}
	defer e.tickMu.Unlock()

	start := time.Now()
	data, prices, err := e.fetchAll(ctx)
	if err != nil {
		logger.Errorf("[engine] 行情拉取失败: %v", err)
		e.setLastTick(start, err)
		return
	}

	e.pf.UpdatePositions(ctx, prices)
	e.pf.CheckPendingOrders(ctx, prices)

	strat := e.activeStrategy()
	series := make(map[string]strategy.Series, len(data))
	for sym, candles := range data {
		series[sym] = strat.CalculateIndicators(strategy.NewSeries(candles))
	}

	signals := strat.GenerateSignals(series, e.pf.Positions(), -1)
	for _, sig := range signals {
		e.executeSignal(ctx, sig)
	}

	if _, err := e.pf.TakeSnapshot(ctx); err != nil {
		logger.Errorf("[engine] 写入快照失败: %v", err)
	}

	e.mu.Lock()
	e.prices = prices
	e.pairData = series
	e.lastTick = start
	e.lastErr = ""
	e.mu.Unlock()
	logger.Debugf("[engine] tick 完成,耗时 %s,信号 %d 个", time.Since(start).Truncate(time.Millisecond), len(signals))
}

// fetchAll 逐交易对拉取K线,带有限次重试与固定退避。
func (e *Engine) fetchAll(ctx context.Context) (map[string][]market.Candle, map[string]float64, error) {
	data := make(map[string][]market.Candle, len(e.cfg.Symbols))
	prices := make(map[string]float64, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		candles, err := e.fetchWithRetry(ctx, sym)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", sym, err)
		}
		if len(candles) == 0 {
			return nil, nil, fmt.Errorf("%s: 未返回任何K线", sym)
		}
		data[sym] = candles
		prices[sym] = candles[len(candles)-1].Close
	}
	return data, prices, nil
}

func (e *Engine) fetchWithRetry(ctx context.Context, symbol string) ([]market.Candle, error) {
	var lastErr error
	for attempt := 1; attempt <= e.fetchRetries; attempt++ {
		candles, err := e.source.FetchOHLCV(ctx, symbol, e.cfg.Timeframe, 0, e.cfg.Lookback)
		if err == nil {
			return candles, nil
		}
		lastErr = err
		logger.Warnf("[engine] 拉取 %s 失败 (第 %d/%d 次): %v", symbol, attempt, e.fetchRetries, err)
		if attempt < e.fetchRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.retryDelay):
			}
		}
	}
	return nil, lastErr
}

func (e *Engine) executeSignal(ctx context.Context, sig types.Signal) {
	if sig.Action != types.SignalBuy && sig.Action != types.SignalSell {
		return
	}
	qty := e.pf.CalculatePositionSize(sig.Symbol, sig.Price, sig.Action)
	if qty <= 0 {
		logger.Debugf("[engine] %s %s 信号数量为 0,忽略 (%s)", sig.Symbol, sig.Action, sig.Reason)
		return
	}
	order := &types.Order{
		Symbol:       sig.Symbol,
		Type:         types.OrderMarket,
		Side:         types.OrderSide(sig.Action),
		Quantity:     qty,
		StrategyName: e.ActiveStrategy(),
	}
	if err := e.pf.SubmitOrder(ctx, order, sig.Price); err != nil {
		logger.Errorf("[engine] 提交订单失败 %s %s: %v", sig.Symbol, sig.Action, err)
		return
	}
	logger.Infof("[engine] 信号执行 %s %s qty=%.6f price=%.4f (%s)", sig.Symbol, sig.Action, qty, sig.Price, sig.Reason)

	if sig.Action == types.SignalBuy && order.Status == types.OrderFilled {
		sl, tp := 0.0, 0.0
		if e.cfg.StopLossPct > 0 {
			sl = order.FilledPrice * (1 - e.cfg.StopLossPct)
		}
		if e.cfg.TakeProfitPct > 0 {
			tp = order.FilledPrice * (1 + e.cfg.TakeProfitPct)
		}
		if sl > 0 || tp > 0 {
			if err := e.pf.SetPositionExits(ctx, sig.Symbol, sl, tp); err != nil {
				logger.Warnf("[engine] 设置止损止盈失败 %s: %v", sig.Symbol, err)
			}
		}
	}
}

func (e *Engine) setLastTick(at time.Time, err error) {
	e.mu.Lock()
	e.lastTick = at
	if err != nil {
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
	}
	e.mu.Unlock()
}

func (e *Engine) activeStrategy() strategy.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strat
}

// ChangeStrategy 热切换策略。未知名称返回错误,切换写入审计记录,
// source 标记来源(api / config)。
func (e *Engine) ChangeStrategy(ctx context.Context, name string, params map[string]any, source string) error {
	strat, err := strategy.New(name, params)
	if err != nil {
		return err
	}
	e.mu.Lock()
	prev := e.strat.Name()
	e.strat = strat
	e.mu.Unlock()

	e.pf.SetStrategyName(strat.Name())
	if e.audit != nil {
		change := gormstore.StrategyChange{
			OldName:   prev,
			NewName:   strat.Name(),
			Params:    params,
			Source:    source,
			CreatedAt: time.Now(),
		}
		if err := e.audit.InsertStrategyChange(ctx, change); err != nil {
			logger.Errorf("[engine] 写入策略切换记录失败: %v", err)
		}
	}
	logger.Infof("[engine] 策略已切换: %s -> %s", prev, strat.Name())
	return nil
}

// ActiveStrategy 返回当前策略名。
func (e *Engine) ActiveStrategy() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strat.Name()
}

// Status 返回引擎运行状态与最近一次 tick 信息。
func (e *Engine) Status() StatusInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StatusInfo{
		Status:    e.status,
		Strategy:  e.strat.Name(),
		Symbols:   append([]string{}, e.cfg.Symbols...),
		Timeframe: e.cfg.Timeframe,
		Interval:  e.cfg.Interval.String(),
		LastTick:  e.lastTick,
		LastError: e.lastErr,
	}
}

// StatusInfo 是引擎状态的对外快照。
type StatusInfo struct {
	Status    string    `json:"status"`
	Strategy  string    `json:"strategy"`
	Symbols   []string  `json:"symbols"`
	Timeframe string    `json:"timeframe"`
	Interval  string    `json:"interval"`
	LastTick  time.Time `json:"last_tick,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Summary 返回组合概要。
func (e *Engine) Summary() types.PortfolioSummary {
	return e.pf.Summary()
}

// Prices 返回最近一轮 tick 的标记价格。
func (e *Engine) Prices() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.prices))
	for k, v := range e.prices {
		out[k] = v
	}
	return out
}

// PairData 返回指定交易对带指标列的最近数据。
func (e *Engine) PairData(symbol string) (strategy.Series, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.pairData[symbol]
	return s, ok
}

// Portfolio 暴露底层组合,供 HTTP 层读取持仓与挂单。
func (e *Engine) Portfolio() *portfolio.Portfolio {
	return e.pf
}
