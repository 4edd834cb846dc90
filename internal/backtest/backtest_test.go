package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/market"
)

// fakeSource 从内存数据集按分页语义返回 K 线。
type fakeSource struct {
	candles []market.Candle
	calls   int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchOHLCV(_ context.Context, _ string, _ string, since int64, limit int) ([]market.Candle, error) {
	f.calls++
	out := make([]market.Candle, 0, limit)
	for _, c := range f.candles {
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

// waveCandles 生成带正弦波动的小时线,保证均线交叉反复出现。
func waveCandles(n int, start time.Time) []market.Candle {
	out := make([]market.Candle, 0, n)
	step := time.Hour
	for i := 0; i < n; i++ {
		price := 100 + 15*math.Sin(float64(i)/12)
		openTime := start.Add(time.Duration(i) * step).UnixMilli()
		out = append(out, market.Candle{
			OpenTime:  openTime,
			CloseTime: openTime + step.Milliseconds() - 1,
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price,
			Volume:    1000,
		})
	}
	return out
}

func baseParams() RunParams {
	return RunParams{
		Strategy:         "ema_sma_crossover",
		Symbols:          []string{"BTC/USDT"},
		Timeframe:        "1h",
		Days:             30,
		InitialBalance:   10000,
		FeeRate:          0.001,
		MaxPositionPct:   0.2,
		MaxOpenPositions: 5,
	}
}

func newTestBacktester(t *testing.T, src market.Source) *Backtester {
	t.Helper()
	bt, err := NewBacktester(BacktesterConfig{FetchPerSecond: 1000}, src, nil)
	require.NoError(t, err)
	return bt
}

func TestRunIsDeterministic(t *testing.T) {
	bt := newTestBacktester(t, &fakeSource{})
	data := map[string][]market.Candle{
		"BTC/USDT": waveCandles(400, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}

	first, err := bt.Run(context.Background(), baseParams(), data, nil)
	require.NoError(t, err)
	second, err := bt.Run(context.Background(), baseParams(), data, nil)
	require.NoError(t, err)

	require.Positive(t, first.TradeCount, "正弦行情应产生交叉信号")
	assert.Equal(t, first.TradeCount, second.TradeCount)
	assert.InDelta(t, first.FinalValue, second.FinalValue, 1e-9)
	assert.InDelta(t, first.TotalReturnPct, second.TotalReturnPct, 1e-9)
	assert.InDelta(t, first.MaxDrawdownPct, second.MaxDrawdownPct, 1e-9)
	require.Equal(t, len(first.EquityCurve), len(second.EquityCurve))
	assert.InDelta(t, first.EquityCurve[len(first.EquityCurve)-1].Value, second.EquityCurve[len(second.EquityCurve)-1].Value, 1e-9)
}

func TestRunAbortsOnInsufficientWarmup(t *testing.T) {
	bt := newTestBacktester(t, &fakeSource{})
	// 默认 SMA 周期 20,暖机 25 根,20 根数据不足
	data := map[string][]market.Candle{
		"BTC/USDT": waveCandles(20, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}

	result, err := bt.Run(context.Background(), baseParams(), data, nil)
	require.NoError(t, err)
	assert.Zero(t, result.TradeCount)
	assert.Empty(t, result.EquityCurve)
	assert.Equal(t, result.InitialBalance, result.FinalValue)
}

func TestRunRejectsUnknownStrategy(t *testing.T) {
	bt := newTestBacktester(t, &fakeSource{})
	params := baseParams()
	params.Strategy = "nope"
	_, err := bt.Run(context.Background(), params, nil, nil)
	assert.Error(t, err)
}

func TestRunProgressReachesOne(t *testing.T) {
	bt := newTestBacktester(t, &fakeSource{})
	data := map[string][]market.Candle{
		"BTC/USDT": waveCandles(120, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	var last float64
	_, err := bt.Run(context.Background(), baseParams(), data, func(v float64) { last = v })
	require.NoError(t, err)
	assert.Equal(t, 1.0, last)
}

func TestFetchHistoricalDataPaginates(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{candles: waveCandles(2500, start)}
	bt := newTestBacktester(t, src)
	bt.nowFn = func() time.Time { return start.Add(2500 * time.Hour) }

	candles, err := bt.FetchHistoricalData(context.Background(), "BTC/USDT", "1h", 90)
	require.NoError(t, err)

	// 90 天窗口只覆盖 2160 根,分页应在短页处停止
	assert.Len(t, candles, 2160)
	assert.GreaterOrEqual(t, src.calls, 3)
	for i := 1; i < len(candles); i++ {
		assert.Greater(t, candles[i].OpenTime, candles[i-1].OpenTime)
	}
}

func TestFetchHistoricalDataRejectsBadTimeframe(t *testing.T) {
	bt := newTestBacktester(t, &fakeSource{})
	_, err := bt.FetchHistoricalData(context.Background(), "BTC/USDT", "bogus", 30)
	assert.Error(t, err)
}

func TestMaxDrawdownPct(t *testing.T) {
	curve := []EquityPoint{
		{Value: 10000}, {Value: 11000}, {Value: 9900}, {Value: 10500}, {Value: 8800},
	}
	// 峰值 11000,谷值 8800 → 20%
	assert.InDelta(t, 20.0, maxDrawdownPct(curve), 1e-9)
	assert.Zero(t, maxDrawdownPct(nil))
}
