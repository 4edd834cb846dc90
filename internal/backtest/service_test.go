package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, candles int) *Service {
	t.Helper()
	// 数据集结束于当前时间,保证 days 窗口能覆盖到
	start := time.Now().Add(-time.Duration(candles) * time.Hour)
	src := &fakeSource{candles: waveCandles(candles, start)}
	bt := newTestBacktester(t, src)
	svc, err := NewService(ServiceConfig{Backtester: bt, MaxConcurrent: 2, TaskTTL: time.Hour})
	require.NoError(t, err)
	return svc
}

func waitForTask(t *testing.T, svc *Service, id string) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		snap, ok := svc.TaskSnapshot(id)
		if !ok {
			return false
		}
		task = snap
		return task.Status == TaskStatusDone || task.Status == TaskStatusError
	}, 10*time.Second, 10*time.Millisecond)
	return task
}

func TestSubmitRunCompletes(t *testing.T) {
	svc := newTestService(t, 400)

	task, err := svc.SubmitRun(baseParams())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, TaskKindRun, task.Kind)
	require.NotEmpty(t, task.ID)

	done := waitForTask(t, svc, task.ID)
	require.Equal(t, TaskStatusDone, done.Status, "message=%s", done.Message)
	require.NotNil(t, done.Result)
	assert.Equal(t, "ema_sma_crossover", done.Result.Strategy)
	assert.Equal(t, 1.0, done.Progress)
	assert.NotNil(t, done.FinishedAt)
}

func TestSubmitRunValidatesParams(t *testing.T) {
	svc := newTestService(t, 100)

	_, err := svc.SubmitRun(RunParams{Strategy: "", Symbols: []string{"BTC/USDT"}})
	assert.Error(t, err)

	_, err = svc.SubmitRun(RunParams{Strategy: "ema_sma_crossover"})
	assert.Error(t, err)
}

func TestSubmitRunUnknownStrategyFailsTask(t *testing.T) {
	svc := newTestService(t, 100)
	params := baseParams()
	params.Strategy = "nope"

	task, err := svc.SubmitRun(params)
	require.NoError(t, err)
	done := waitForTask(t, svc, task.ID)
	assert.Equal(t, TaskStatusError, done.Status)
	assert.NotEmpty(t, done.Message)
}

func TestSubmitSweepSortsByReturn(t *testing.T) {
	svc := newTestService(t, 400)

	task, err := svc.SubmitSweep(SweepParams{
		Base: baseParams(),
		ParamSets: []map[string]any{
			{"ema_period": 5, "sma_period": 10},
			{"ema_period": 10, "sma_period": 20},
			{"ema_period": 20, "sma_period": 50},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, TaskKindSweep, task.Kind)

	done := waitForTask(t, svc, task.ID)
	require.Equal(t, TaskStatusDone, done.Status, "message=%s", done.Message)
	require.Len(t, done.Results, 3)
	for i := 1; i < len(done.Results); i++ {
		assert.GreaterOrEqual(t, done.Results[i-1].TotalReturnPct, done.Results[i].TotalReturnPct)
	}
}

func TestSubmitSweepRequiresParamSets(t *testing.T) {
	svc := newTestService(t, 100)
	_, err := svc.SubmitSweep(SweepParams{Base: baseParams()})
	assert.Error(t, err)
}

func TestTasksSnapshotNewestFirst(t *testing.T) {
	svc := newTestService(t, 400)

	first, err := svc.SubmitRun(baseParams())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := svc.SubmitRun(baseParams())
	require.NoError(t, err)

	waitForTask(t, svc, first.ID)
	waitForTask(t, svc, second.ID)

	all := svc.TasksSnapshot()
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
}
