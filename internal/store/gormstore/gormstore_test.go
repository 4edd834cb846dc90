package gormstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"papertrade/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 6, 1, 12, 30, 0, 123456789, time.UTC)
	order := &types.Order{
		Symbol:       "btc/usdt",
		Type:         types.OrderMarket,
		Side:         types.SideBuy,
		Quantity:     0.5,
		Status:       types.OrderPending,
		CreatedAt:    created,
		StrategyName: "ema_sma_crossover",
	}
	require.NoError(t, s.InsertOrder(ctx, order))
	require.Positive(t, order.ID)

	orders, err := s.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	got := orders[0]
	assert.Equal(t, "BTC/USDT", got.Symbol, "symbol 落库前应统一为大写")
	assert.Equal(t, types.OrderMarket, got.Type)
	assert.Equal(t, types.SideBuy, got.Side)
	assert.Equal(t, "ema_sma_crossover", got.StrategyName)
	assert.True(t, created.Equal(got.CreatedAt), "RFC3339Nano 应保留纳秒精度")
	assert.Nil(t, got.FilledAt)

	filledAt := created.Add(time.Second)
	order.Status = types.OrderFilled
	order.FilledPrice = 50000
	order.Fee = 25
	order.FilledAt = &filledAt
	require.NoError(t, s.UpdateOrder(ctx, *order))

	orders, err = s.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	got = orders[0]
	assert.Equal(t, types.OrderFilled, got.Status)
	assert.Equal(t, 50000.0, got.FilledPrice)
	assert.Equal(t, 25.0, got.Fee)
	require.NotNil(t, got.FilledAt)
	assert.True(t, filledAt.Equal(*got.FilledAt))
}

func TestUpdateOrderMissing(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateOrder(context.Background(), types.Order{ID: 999, Status: types.OrderFilled})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	err = s.UpdateOrder(context.Background(), types.Order{Status: types.OrderFilled})
	assert.Error(t, err, "缺少 id 应直接报错")
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		order := &types.Order{
			Symbol:   fmt.Sprintf("SYM%d/USDT", i),
			Type:     types.OrderMarket,
			Side:     types.SideBuy,
			Quantity: 1,
			Status:   types.OrderFilled,
		}
		require.NoError(t, s.InsertOrder(ctx, order))
	}

	orders, err := s.ListOrders(ctx, 3)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, "SYM4/USDT", orders[0].Symbol)
	assert.Equal(t, "SYM2/USDT", orders[2].Symbol)
}

func TestPendingOrdersOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	statuses := []types.OrderStatus{types.OrderPending, types.OrderFilled, types.OrderPending}
	for i, status := range statuses {
		order := &types.Order{
			Symbol:   fmt.Sprintf("SYM%d/USDT", i),
			Type:     types.OrderLimit,
			Side:     types.SideBuy,
			Quantity: 1,
			Price:    100,
			Status:   status,
		}
		require.NoError(t, s.InsertOrder(ctx, order))
	}

	pending, err := s.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "SYM0/USDT", pending[0].Symbol)
	assert.Equal(t, "SYM2/USDT", pending[1].Symbol)
}

func TestPositionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	pos := &types.Position{
		Symbol:       "eth/usdt",
		Quantity:     2,
		EntryPrice:   3000,
		EntryTime:    entry,
		CurrentPrice: 3000,
		StopLoss:     2850,
		TakeProfit:   3300,
		Status:       types.PositionOpen,
		EntryOrderID: 3,
	}
	require.NoError(t, s.InsertPosition(ctx, pos))
	require.Positive(t, pos.ID)

	open, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ETH/USDT", open[0].Symbol)
	assert.Equal(t, 2850.0, open[0].StopLoss)
	assert.Equal(t, int64(3), open[0].EntryOrderID)
	assert.True(t, entry.Equal(open[0].EntryTime))

	exitTime := entry.Add(4 * time.Hour)
	pos.Status = types.PositionClosed
	pos.ExitPrice = 3150
	pos.PnL = 293.85
	pos.ExitTime = &exitTime
	pos.ExitOrderID = 7
	require.NoError(t, s.UpdatePosition(ctx, *pos))

	open, err = s.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "已平仓持仓不应再出现在未平仓列表")
}

func TestUpdatePositionMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdatePosition(context.Background(), types.Position{ID: 42, Status: types.PositionClosed})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTradeRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	exit := entry.Add(90 * time.Minute)
	rec := &types.TradeRecord{
		Symbol:          "btc/usdt",
		Side:            types.SideBuy,
		Quantity:        2,
		EntryPrice:      100,
		ExitPrice:       110,
		EntryTime:       entry,
		ExitTime:        exit,
		PnL:             19.58,
		PnLPct:          10,
		Fees:            0.42,
		Strategy:        "crossover",
		DurationMinutes: 90,
	}
	require.NoError(t, s.InsertTradeRecord(ctx, rec))
	require.Positive(t, rec.ID)

	trades, err := s.ListTrades(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	got := trades[0]
	assert.Equal(t, "BTC/USDT", got.Symbol)
	assert.Equal(t, 100.0, got.EntryPrice)
	assert.Equal(t, 110.0, got.ExitPrice)
	assert.True(t, entry.Equal(got.EntryTime))
	assert.True(t, exit.Equal(got.ExitTime))
	assert.Equal(t, 19.58, got.PnL)
	assert.Equal(t, 0.42, got.Fees)
	assert.Equal(t, int64(90), got.DurationMinutes)
}

func TestListTradesFilterAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		symbol := "BTC/USDT"
		if i%2 == 1 {
			symbol = "ETH/USDT"
		}
		rec := &types.TradeRecord{
			Symbol:    symbol,
			Side:      types.SideBuy,
			Quantity:  1,
			ExitPrice: float64(100 + i),
			Fees:      0.1,
			Strategy:  "crossover",
		}
		require.NoError(t, s.InsertTradeRecord(ctx, rec))
	}

	trades, err := s.ListTrades(ctx, "btc/usdt", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, "BTC/USDT", tr.Symbol)
	}
	assert.Greater(t, trades[0].ExitPrice, trades[1].ExitPrice, "默认按最新在前返回")

	trades, err = s.ListTrades(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 103.0, trades[0].ExitPrice)
}

func TestAllTradesReturnsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 超过 ListTrades 的截断上限,AllTrades 仍返回全量且按平仓顺序。
	const total = 60
	for i := 0; i < total; i++ {
		rec := &types.TradeRecord{
			Symbol:    "BTC/USDT",
			Side:      types.SideBuy,
			Quantity:  1,
			ExitPrice: float64(100 + i),
			PnL:       float64(i),
		}
		require.NoError(t, s.InsertTradeRecord(ctx, rec))
	}

	all, err := s.AllTrades(ctx)
	require.NoError(t, err)
	require.Len(t, all, total)
	assert.Equal(t, 100.0, all[0].ExitPrice)
	assert.Equal(t, float64(100+total-1), all[total-1].ExitPrice)

	clamped, err := s.ListTrades(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, clamped, 50)
}

func TestSnapshotsAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	values := []float64{10000, 10100, 10050}
	for i, v := range values {
		snap := &types.PortfolioSnapshot{
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			TotalValue: v,
			Cash:       v,
		}
		require.NoError(t, s.InsertSnapshot(ctx, snap))
	}

	snaps, err := s.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, 10000.0, snaps[0].TotalValue)
	assert.Equal(t, 10050.0, snaps[2].TotalValue)
	assert.True(t, snaps[0].Timestamp.Before(snaps[1].Timestamp), "快照应按时间升序返回")

	// limit 只保留最近 N 条,但仍按升序输出。
	snaps, err = s.ListSnapshots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 10100.0, snaps[0].TotalValue)
	assert.Equal(t, 10050.0, snaps[1].TotalValue)
}

func TestPerformanceStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pnls := []float64{50, -20, 30}
	for _, pnl := range pnls {
		require.NoError(t, s.InsertTradeRecord(ctx, &types.TradeRecord{
			Symbol: "BTC/USDT", Side: types.SideBuy, Quantity: 1,
			EntryPrice: 100, ExitPrice: 100 + pnl,
			PnL: pnl, PnLPct: pnl / 10, Fees: 0.5, Strategy: "crossover",
		}))
	}

	stats, err := s.Performance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, 66.666, stats.WinRate, 0.01)
	assert.InDelta(t, 60.0, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 20.0, stats.AvgPnL, 1e-9)
	assert.Equal(t, 50.0, stats.BestTrade)
	assert.Equal(t, -20.0, stats.WorstTrade)
	assert.InDelta(t, 1.5, stats.TotalFees, 1e-9)
}

func TestPerformanceEmpty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.Performance(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalTrades)
	assert.Zero(t, stats.WinRate)
}

func TestStrategyChangeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertStrategyChange(ctx, StrategyChange{
		OldName: "crossover",
		NewName: "rsi",
		Params:  map[string]any{"rsi_period": float64(14)},
		Source:  "api",
	}))
	require.NoError(t, s.InsertStrategyChange(ctx, StrategyChange{
		OldName: "rsi",
		NewName: "combined",
		Source:  "config",
	}))

	changes, err := s.ListStrategyChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "combined", changes[0].NewName, "最新变更在前")
	assert.Equal(t, "rsi", changes[1].NewName)
	assert.Equal(t, map[string]any{"rsi_period": float64(14)}, changes[1].Params)
	assert.Equal(t, "api", changes[1].Source)
	assert.False(t, changes[0].CreatedAt.IsZero())
}

func TestNilStoreErrors(t *testing.T) {
	var s *Store
	ctx := context.Background()

	_, err := s.ListOrders(ctx, 10)
	assert.Error(t, err)
	_, err = s.OpenPositions(ctx)
	assert.Error(t, err)
	_, err = s.Performance(ctx)
	assert.Error(t, err)
	assert.Error(t, s.InsertOrder(ctx, &types.Order{}))
	assert.NoError(t, s.Close())
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
