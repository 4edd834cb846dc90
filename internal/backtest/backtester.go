package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"papertrade/internal/logger"
	"papertrade/internal/market"
	"papertrade/internal/portfolio"
	"papertrade/internal/scheduler"
	"papertrade/internal/store/gormstore"
	"papertrade/internal/strategy"
	"papertrade/internal/types"
)

// 单次请求的最大 K 线数量,与交易所分页上限一致
const fetchBatch = 1000

// 指标预热之外额外跳过的根数,避免刚出暖机期的抖动信号
const warmupPadding = 5

// RunParams 描述一次回测。
type RunParams struct {
	Strategy         string         `json:"strategy"`
	Params           map[string]any `json:"params,omitempty"`
	Symbols          []string       `json:"symbols"`
	Timeframe        string         `json:"timeframe"`
	Days             int            `json:"days"`
	InitialBalance   float64        `json:"initial_balance"`
	FeeRate          float64        `json:"fee_rate"`
	MaxPositionPct   float64        `json:"max_position_pct"`
	MaxOpenPositions int            `json:"max_open_positions"`
	StopLossPct      float64        `json:"stop_loss_pct,omitempty"`
	TakeProfitPct    float64        `json:"take_profit_pct,omitempty"`
}

func (p *RunParams) normalize(defaults BacktesterConfig) error {
	p.Strategy = strings.TrimSpace(p.Strategy)
	if p.Strategy == "" {
		return fmt.Errorf("strategy 不能为空")
	}
	if len(p.Symbols) == 0 {
		return fmt.Errorf("symbols 不能为空")
	}
	for i, sym := range p.Symbols {
		p.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	p.Timeframe = strings.TrimSpace(p.Timeframe)
	if p.Timeframe == "" {
		p.Timeframe = defaults.Timeframe
	}
	if _, ok := scheduler.ParseIntervalDuration(p.Timeframe); !ok {
		return fmt.Errorf("无效的 timeframe: %s", p.Timeframe)
	}
	if p.Days <= 0 {
		p.Days = defaults.DefaultDays
	}
	if p.InitialBalance <= 0 {
		p.InitialBalance = defaults.InitialBalance
	}
	if p.FeeRate < 0 || p.FeeRate >= 1 {
		return fmt.Errorf("fee_rate 必须在 [0, 1) 区间")
	}
	if p.FeeRate == 0 {
		p.FeeRate = defaults.FeeRate
	}
	if p.MaxPositionPct <= 0 || p.MaxPositionPct > 1 {
		p.MaxPositionPct = defaults.MaxPositionPct
	}
	if p.MaxOpenPositions <= 0 {
		p.MaxOpenPositions = defaults.MaxOpenPositions
	}
	return nil
}

// CandleCache 是回测器依赖的历史 K 线缓存,由 candlecache.Cache 实现。
type CandleCache interface {
	InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error)
	RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)
}

// BacktesterConfig 提供回测参数缺省值与拉取限速。
type BacktesterConfig struct {
	Timeframe        string
	DefaultDays      int
	InitialBalance   float64
	FeeRate          float64
	MaxPositionPct   float64
	MaxOpenPositions int
	FetchPerSecond   float64
}

func (c *BacktesterConfig) withDefaults() {
	if c.Timeframe == "" {
		c.Timeframe = "1h"
	}
	if c.DefaultDays <= 0 {
		c.DefaultDays = 30
	}
	if c.InitialBalance <= 0 {
		c.InitialBalance = 10000
	}
	if c.FeeRate <= 0 {
		c.FeeRate = 0.001
	}
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = 0.2
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 5
	}
	if c.FetchPerSecond <= 0 {
		c.FetchPerSecond = 5
	}
}

// Backtester 负责历史数据准备与逐根推演。
type Backtester struct {
	cfg     BacktesterConfig
	source  market.Source
	cache   CandleCache
	limiter *rate.Limiter
	nowFn   func() time.Time
}

func NewBacktester(cfg BacktesterConfig, source market.Source, cache CandleCache) (*Backtester, error) {
	if source == nil {
		return nil, fmt.Errorf("backtest: source 不能为空")
	}
	cfg.withDefaults()
	return &Backtester{
		cfg:     cfg,
		source:  source,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(cfg.FetchPerSecond), 1),
		nowFn:   time.Now,
	}, nil
}

// Defaults 返回补全缺省值所用的配置。
func (b *Backtester) Defaults() BacktesterConfig { return b.cfg }

// FetchHistoricalData 拉取单交易对近 days 天的 K 线。
// 已缓存区间直接复用,只向交易所补缺口,批量 1000 根直到短页。
func (b *Backtester) FetchHistoricalData(ctx context.Context, symbol, timeframe string, days int) ([]market.Candle, error) {
	dur, ok := scheduler.ParseIntervalDuration(timeframe)
	if !ok {
		return nil, fmt.Errorf("无效的 timeframe: %s", timeframe)
	}
	step := dur.Milliseconds()
	now := b.nowFn()
	since := now.Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()

	var candles []market.Candle
	if b.cache != nil {
		cached, err := b.cache.RangeCandles(ctx, symbol, timeframe, since, now.UnixMilli())
		if err != nil {
			logger.Warnf("[backtest] 读取缓存失败 %s %s: %v", symbol, timeframe, err)
		} else {
			candles = cached
		}
	}

	cursor := since
	if len(candles) > 0 {
		cursor = candles[len(candles)-1].OpenTime + step
	}
	fetched := 0
	for cursor < now.UnixMilli() {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		batch, err := b.source.FetchOHLCV(ctx, symbol, timeframe, cursor, fetchBatch)
		if err != nil {
			return nil, fmt.Errorf("拉取 %s 历史数据失败: %w", symbol, err)
		}
		if len(batch) == 0 {
			break
		}
		candles = append(candles, batch...)
		fetched += len(batch)
		if b.cache != nil {
			if _, err := b.cache.InsertCandles(ctx, symbol, timeframe, batch); err != nil {
				logger.Warnf("[backtest] 写入缓存失败 %s %s: %v", symbol, timeframe, err)
			}
		}
		cursor = batch[len(batch)-1].OpenTime + step
		if len(batch) < fetchBatch {
			break
		}
	}

	candles = market.SortDedupe(candles)
	// 丢弃窗口之前的缓存残留
	for len(candles) > 0 && candles[0].OpenTime < since {
		candles = candles[1:]
	}
	logger.Infof("[backtest] %s %s 数据就绪: %d 根 (新拉取 %d)", symbol, timeframe, len(candles), fetched)
	return candles, nil
}

// LoadData 为一组交易对准备回测数据集。
func (b *Backtester) LoadData(ctx context.Context, symbols []string, timeframe string, days int) (map[string][]market.Candle, error) {
	data := make(map[string][]market.Candle, len(symbols))
	for _, sym := range symbols {
		candles, err := b.FetchHistoricalData(ctx, sym, timeframe, days)
		if err != nil {
			return nil, err
		}
		data[sym] = candles
	}
	return data, nil
}

// Run 在给定数据集上逐根推演策略。
// 指标对每个交易对只计算一遍;暖机不足时返回空结果而非错误。
func (b *Backtester) Run(ctx context.Context, params RunParams, data map[string][]market.Candle, progress func(float64)) (Result, error) {
	if err := params.normalize(b.cfg); err != nil {
		return Result{}, err
	}
	strat, err := strategy.New(params.Strategy, params.Params)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Strategy:       strat.Name(),
		Params:         params.Params,
		Symbols:        append([]string{}, params.Symbols...),
		Timeframe:      params.Timeframe,
		InitialBalance: params.InitialBalance,
		FinalValue:     params.InitialBalance,
	}

	series := make(map[string]strategy.Series, len(params.Symbols))
	minLen := -1
	for _, sym := range params.Symbols {
		candles := data[sym]
		series[sym] = strat.CalculateIndicators(strategy.NewSeries(candles))
		if minLen < 0 || len(candles) < minLen {
			minLen = len(candles)
		}
	}
	warmup := strat.WarmupPeriod() + warmupPadding
	if minLen <= warmup {
		logger.Warnf("[backtest] 数据不足: %d 根 <= 暖机 %d 根,跳过回测", minLen, warmup)
		return result, nil
	}
	result.Candles = minLen

	store, err := gormstore.NewMemory()
	if err != nil {
		return Result{}, fmt.Errorf("创建回测存储失败: %w", err)
	}
	defer store.Close()
	pf, err := portfolio.New(portfolio.Config{
		InitialBalance:   params.InitialBalance,
		FeeRate:          params.FeeRate,
		MaxPositionPct:   params.MaxPositionPct,
		MaxOpenPositions: params.MaxOpenPositions,
	}, store)
	if err != nil {
		return Result{}, err
	}
	pf.SetStrategyName(strat.Name())

	anchor := params.Symbols[0]
	total := minLen - warmup
	prices := make(map[string]float64, len(params.Symbols))

	for i := warmup; i < minLen; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		for _, sym := range params.Symbols {
			prices[sym] = data[sym][i].Close
		}
		pf.UpdatePositions(ctx, prices)
		pf.CheckPendingOrders(ctx, prices)

		signals := strat.GenerateSignals(series, pf.Positions(), i)
		for _, sig := range signals {
			b.executeSignal(ctx, pf, sig, params)
		}

		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: data[anchor][i].OpenTime,
			Value:     pf.TotalValue(),
		})
		if progress != nil && (i-warmup)%50 == 0 {
			progress(float64(i-warmup+1) / float64(total))
		}
	}
	if progress != nil {
		progress(1)
	}

	trades, err := store.AllTrades(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("读取回测成交失败: %w", err)
	}
	result.Trades = trades
	result.TradeCount = len(trades)
	result.WinRatePct, result.AvgTradePnL = summarizeTrades(trades)
	result.FinalValue = pf.TotalValue()
	result.TotalReturnPct = (result.FinalValue/params.InitialBalance - 1) * 100
	result.MaxDrawdownPct = maxDrawdownPct(result.EquityCurve)

	logger.Infof("[backtest] %s 完成: return=%.2f%% win=%.1f%% trades=%d maxDD=%.2f%%",
		strat.Name(), result.TotalReturnPct, result.WinRatePct, result.TradeCount, result.MaxDrawdownPct)
	return result, nil
}

func (b *Backtester) executeSignal(ctx context.Context, pf *portfolio.Portfolio, sig types.Signal, params RunParams) {
	if sig.Action != types.SignalBuy && sig.Action != types.SignalSell {
		return
	}
	qty := pf.CalculatePositionSize(sig.Symbol, sig.Price, sig.Action)
	if qty <= 0 {
		return
	}
	order := &types.Order{
		Symbol:       sig.Symbol,
		Type:         types.OrderMarket,
		Side:         types.OrderSide(sig.Action),
		Quantity:     qty,
		StrategyName: params.Strategy,
	}
	if err := pf.SubmitOrder(ctx, order, sig.Price); err != nil {
		logger.Warnf("[backtest] 提交订单失败 %s %s: %v", sig.Symbol, sig.Action, err)
		return
	}
	if sig.Action == types.SignalBuy && order.Status == types.OrderFilled {
		sl, tp := 0.0, 0.0
		if params.StopLossPct > 0 {
			sl = order.FilledPrice * (1 - params.StopLossPct)
		}
		if params.TakeProfitPct > 0 {
			tp = order.FilledPrice * (1 + params.TakeProfitPct)
		}
		if sl > 0 || tp > 0 {
			if err := pf.SetPositionExits(ctx, sig.Symbol, sl, tp); err != nil {
				logger.Warnf("[backtest] 设置止损止盈失败 %s: %v", sig.Symbol, err)
			}
		}
	}
}

// sortResultsByReturn 按收益率倒序排列扫参结果。
func sortResultsByReturn(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalReturnPct > results[j].TotalReturnPct
	})
}
