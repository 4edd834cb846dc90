package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/backtest"
	"papertrade/internal/engine"
	"papertrade/internal/market"
	"papertrade/internal/portfolio"
	"papertrade/internal/store/gormstore"
	"papertrade/internal/strategy"
	"papertrade/internal/types"
)

type stubSource struct {
	candles []market.Candle
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchOHLCV(_ context.Context, _ string, _ string, since int64, limit int) ([]market.Candle, error) {
	out := make([]market.Candle, 0, limit)
	for _, c := range s.candles {
		if since > 0 && c.OpenTime < since {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func waveCandles(n int, start time.Time) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		price := 100 + 15*math.Sin(float64(i)/12)
		openTime := start.Add(time.Duration(i) * time.Hour).UnixMilli()
		out = append(out, market.Candle{
			OpenTime: openTime, CloseTime: openTime + 3599999,
			Open: price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 500,
		})
	}
	return out
}

type fixture struct {
	server *Server
	store  *gormstore.Store
	engine *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := gormstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pf, err := portfolio.New(portfolio.Config{
		InitialBalance: 10000, FeeRate: 0.001, MaxPositionPct: 0.2, MaxOpenPositions: 5,
	}, store)
	require.NoError(t, err)

	strat, err := strategy.New("ema_sma_crossover", nil)
	require.NoError(t, err)

	src := &stubSource{candles: waveCandles(400, time.Now().Add(-400*time.Hour))}
	eng, err := engine.New(engine.Config{
		Symbols: []string{"BTC/USDT"}, Timeframe: "1h", Lookback: 120, Interval: time.Minute,
	}, src, pf, strat, store)
	require.NoError(t, err)
	eng.Tick(context.Background())

	bt, err := backtest.NewBacktester(backtest.BacktesterConfig{FetchPerSecond: 1000}, src, nil)
	require.NoError(t, err)
	svc, err := backtest.NewService(backtest.ServiceConfig{Backtester: bt})
	require.NoError(t, err)

	server, err := NewServer(ServerConfig{Addr: ":0", Engine: eng, Store: store, Backtests: svc})
	require.NoError(t, err)
	return &fixture{server: server, store: store, engine: eng}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestPortfolioEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, 10000.0, payload["initial_balance"])
}

func TestPricesAndChartEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/prices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prices := decode(t, rec)["prices"].(map[string]any)
	assert.Contains(t, prices, "BTC/USDT")

	rec = f.do(t, http.MethodGet, "/api/chart/BTC/USDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chart := decode(t, rec)
	assert.Equal(t, "BTC/USDT", chart["symbol"])
	assert.NotEmpty(t, chart["timestamps"])
	indicators := chart["indicators"].(map[string]any)
	assert.Contains(t, indicators, "ema")
	assert.Contains(t, indicators, "sma")

	rec = f.do(t, http.MethodGet, "/api/chart/ETH/USDT", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrdersAndTradesEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pf := f.engine.Portfolio()
	order := &types.Order{Symbol: "BTC/USDT", Type: types.OrderMarket, Side: types.SideBuy, Quantity: 1}
	require.NoError(t, pf.SubmitOrder(ctx, order, 100))

	rec := f.do(t, http.MethodGet, "/api/orders?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["orders"])

	rec = f.do(t, http.MethodGet, "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["positions"])

	// 成交记录在平仓后才出现
	rec = f.do(t, http.MethodGet, "/api/trades?symbol=BTC/USDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["trades"])

	sell := &types.Order{Symbol: "BTC/USDT", Type: types.OrderMarket, Side: types.SideSell, Quantity: 1}
	require.NoError(t, pf.SubmitOrder(ctx, sell, 105))

	rec = f.do(t, http.MethodGet, "/api/trades?symbol=BTC/USDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["trades"])
}

func TestPerformanceEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/performance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Contains(t, payload, "stats")
	assert.Contains(t, payload, "equity_curve")
}

func TestStrategyEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/strategy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, "ema_sma_crossover", payload["active"])
	assert.NotEmpty(t, payload["available"])

	rec = f.do(t, http.MethodPost, "/api/strategy", map[string]any{"name": "rsi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rsi", decode(t, rec)["active"])

	rec = f.do(t, http.MethodPost, "/api/strategy", map[string]any{"name": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/strategy", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEngineStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/engine/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, "stopped", payload["status"])
	assert.Equal(t, "ema_sma_crossover", payload["strategy"])
}

func TestBacktestEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/backtest/runs", map[string]any{"strategy": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/backtest/runs", map[string]any{
		"strategy": "ema_sma_crossover",
		"symbols":  []string{"BTC/USDT"},
		"days":     30,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	taskID := decode(t, rec)["id"].(string)
	require.NotEmpty(t, taskID)

	require.Eventually(t, func() bool {
		poll := f.do(t, http.MethodGet, "/api/backtest/tasks/"+taskID, nil)
		if poll.Code != http.StatusOK {
			return false
		}
		status := decode(t, poll)["status"]
		return status == backtest.TaskStatusDone || status == backtest.TaskStatusError
	}, 10*time.Second, 20*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/backtest/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, backtest.TaskStatusDone, decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/backtest/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["tasks"])

	rec = f.do(t, http.MethodGet, "/api/backtest/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/logs?count=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Contains(t, payload, "logs")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
