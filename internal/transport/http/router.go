package httpapi

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"papertrade/internal/backtest"
	"papertrade/internal/engine"
	"papertrade/internal/logger"
	"papertrade/internal/portfolio"
	"papertrade/internal/store/gormstore"
	"papertrade/internal/strategy"
	"papertrade/internal/types"
)

const (
	defaultListLimit = 50
	defaultLogCount  = 100
	equityCurveLimit = 500
)

// EngineAPI 是 HTTP 层需要的引擎能力,由 engine.Engine 实现。
type EngineAPI interface {
	Summary() types.PortfolioSummary
	Prices() map[string]float64
	PairData(symbol string) (strategy.Series, bool)
	Status() engine.StatusInfo
	ActiveStrategy() string
	ChangeStrategy(ctx context.Context, name string, params map[string]any, source string) error
	Portfolio() *portfolio.Portfolio
}

// ReadStore 暴露查询接口所需的持久化读路径。
type ReadStore interface {
	ListOrders(ctx context.Context, limit int) ([]types.Order, error)
	ListTrades(ctx context.Context, symbol string, limit int) ([]types.TradeRecord, error)
	ListSnapshots(ctx context.Context, limit int) ([]types.PortfolioSnapshot, error)
	Performance(ctx context.Context) (gormstore.PerformanceStats, error)
}

// BacktestAPI 是回测任务服务的对外能力。
type BacktestAPI interface {
	SubmitRun(params backtest.RunParams) (backtest.Task, error)
	SubmitSweep(params backtest.SweepParams) (backtest.Task, error)
	TaskSnapshot(id string) (backtest.Task, bool)
	TasksSnapshot() []backtest.Task
}

// Router 注册 /api 下的全部路由。
type Router struct {
	engine    EngineAPI
	store     ReadStore
	backtests BacktestAPI
}

func NewRouter(eng EngineAPI, store ReadStore, backtests BacktestAPI) *Router {
	return &Router{engine: eng, store: store, backtests: backtests}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/positions", r.handlePositions)
	group.GET("/orders", r.handleOrders)
	group.GET("/trades", r.handleTrades)
	group.GET("/prices", r.handlePrices)
	// 交易对形如 BTC/USDT,带斜杠,用通配段接住
	group.GET("/chart/*symbol", r.handleChart)
	group.GET("/performance", r.handlePerformance)
	group.GET("/logs", r.handleLogs)
	group.GET("/strategy", r.handleStrategyGet)
	group.POST("/strategy", r.handleStrategyPost)
	group.GET("/engine/status", r.handleEngineStatus)
	group.POST("/backtest/runs", r.handleBacktestRun)
	group.POST("/backtest/sweeps", r.handleBacktestSweep)
	group.GET("/backtest/tasks", r.handleBacktestTasks)
	group.GET("/backtest/tasks/:id", r.handleBacktestTask)
}

func (r *Router) handlePortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.Summary())
}

func (r *Router) handlePositions(c *gin.Context) {
	positions := r.engine.Portfolio().Positions()
	out := make([]types.Position, 0, len(positions))
	for _, pos := range positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	c.JSON(http.StatusOK, gin.H{"positions": out, "pending_orders": r.engine.Portfolio().PendingOrders()})
}

func (r *Router) handleOrders(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)
	orders, err := r.store.ListOrders(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (r *Router) handleTrades(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)
	symbol := strings.TrimSpace(c.Query("symbol"))
	trades, err := r.store.ListTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handlePrices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"prices": r.engine.Prices()})
}

func (r *Router) handleChart(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(c.Param("symbol"), "/")))
	series, ok := r.engine.PairData(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "无该交易对的行情数据: " + symbol})
		return
	}

	n := series.Len()
	timestamps := make([]int64, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, candle := range series.Candles {
		timestamps[i] = candle.OpenTime
		open[i] = candle.Open
		high[i] = candle.High
		low[i] = candle.Low
		closes[i] = candle.Close
		volume[i] = candle.Volume
	}
	indicators := make(map[string][]*float64, len(series.Columns))
	for name, values := range series.Columns {
		indicators[name] = nullableSeries(values)
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     symbol,
		"timestamps": timestamps,
		"open":       open,
		"high":       high,
		"low":        low,
		"close":      closes,
		"volume":     volume,
		"indicators": indicators,
	})
}

func (r *Router) handlePerformance(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := r.store.Performance(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	snapshots, err := r.store.ListSnapshots(ctx, equityCurveLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	curve := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		curve = append(curve, gin.H{
			"timestamp":     snap.Timestamp.UnixMilli(),
			"total_value":   snap.TotalValue,
			"total_pnl":     snap.TotalPnL,
			"total_pnl_pct": snap.TotalPnLPct,
		})
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "equity_curve": curve})
}

func (r *Router) handleLogs(c *gin.Context) {
	count := queryInt(c, "count", defaultLogCount)
	c.JSON(http.StatusOK, gin.H{"logs": logger.Tail(count)})
}

func (r *Router) handleStrategyGet(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":    r.engine.ActiveStrategy(),
		"available": strategy.Names(),
	})
}

type strategyChangeRequest struct {
	Name   string         `json:"name" binding:"required"`
	Params map[string]any `json:"params"`
}

func (r *Router) handleStrategyPost(c *gin.Context) {
	var req strategyChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.engine.ChangeStrategy(c.Request.Context(), req.Name, req.Params, "api"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": r.engine.ActiveStrategy()})
}

func (r *Router) handleEngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.Status())
}

func (r *Router) handleBacktestRun(c *gin.Context) {
	if r.backtests == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	var params backtest.RunParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := r.backtests.SubmitRun(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (r *Router) handleBacktestSweep(c *gin.Context) {
	if r.backtests == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	var params backtest.SweepParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := r.backtests.SubmitSweep(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (r *Router) handleBacktestTasks(c *gin.Context) {
	if r.backtests == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": r.backtests.TasksSnapshot()})
}

func (r *Router) handleBacktestTask(c *gin.Context) {
	if r.backtests == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测服务未启用"})
		return
	}
	task, ok := r.backtests.TaskSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// nullableSeries 把指标序列里的 NaN 转成 null,否则 JSON 编码直接报错。
func nullableSeries(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i := range values {
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			continue
		}
		v := values[i]
		out[i] = &v
	}
	return out
}
