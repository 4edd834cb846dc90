package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"papertrade/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4H", 4 * time.Hour, true},
		{" 1d ", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{"", 0, false},
		{"h", 0, false},
		{"0h", 0, false},
		{"-1h", 0, false},
		{"1x", 0, false},
		{"1.5h", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, "input=%q", tc.in)
		assert.Equal(t, tc.want, got, "input=%q", tc.in)
	}
}

func TestDropUnclosedKline(t *testing.T) {
	interval := time.Hour
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	klines := []market.Candle{
		{OpenTime: base.Add(-2 * time.Hour).UnixMilli()},
		{OpenTime: base.Add(-time.Hour).UnixMilli()},
		{OpenTime: base.UnixMilli()},
	}

	t.Run("未收盘的末根被丢弃", func(t *testing.T) {
		now := base.Add(30 * time.Minute)
		got := dropUnclosedKlineAt(klines, interval, now, DefaultKlineGrace)
		require.Len(t, got, 2)
		assert.Equal(t, klines[1].OpenTime, got[1].OpenTime)
	})

	t.Run("宽限期内仍视为未收盘", func(t *testing.T) {
		now := base.Add(interval).Add(5 * time.Second)
		got := dropUnclosedKlineAt(klines, interval, now, 10*time.Second)
		assert.Len(t, got, 2)
	})

	t.Run("过了宽限期则保留", func(t *testing.T) {
		now := base.Add(interval).Add(11 * time.Second)
		got := dropUnclosedKlineAt(klines, interval, now, 10*time.Second)
		assert.Len(t, got, 3)
	})

	t.Run("空切片与非法周期原样返回", func(t *testing.T) {
		assert.Empty(t, dropUnclosedKlineAt(nil, interval, base, 0))
		got := dropUnclosedKlineAt(klines, 0, base, 0)
		assert.Len(t, got, 3)
	})
}

func TestNextTimesAligned(t *testing.T) {
	s := NewIntervalScheduler(context.Background(), time.Hour, 5*time.Second)
	now := time.Date(2025, 6, 1, 10, 17, 42, 0, time.UTC)

	wakeAt, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 5, 0, time.UTC), wakeAt)
	assert.Equal(t, wakeAt.Sub(now), wait)
}

func TestSchedulerRunImmediatelyAndCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewIntervalScheduler(ctx, time.Hour, 0)
	s.RunImmediately = true

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(func() {
			if calls.Add(1) == 1 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler 未在 ctx 取消后退出")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestSchedulerRejectsInvalidInterval(t *testing.T) {
	s := NewIntervalScheduler(context.Background(), 0, 0)
	done := make(chan struct{})
	go func() {
		s.Start(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("interval<=0 时应立即返回")
	}
}
