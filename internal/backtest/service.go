package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"papertrade/internal/logger"
	"papertrade/internal/market"
)

const (
	TaskStatusPending = "pending"
	TaskStatusRunning = "running"
	TaskStatusDone    = "done"
	TaskStatusError   = "error"
)

const (
	TaskKindRun   = "run"
	TaskKindSweep = "sweep"
)

// Task 是一次异步回测(或扫参)的可轮询状态。
type Task struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Message    string     `json:"message,omitempty"`
	Progress   float64    `json:"progress"`
	Params     RunParams  `json:"params"`
	Result     *Result    `json:"result,omitempty"`
	Results    []Result   `json:"results,omitempty"`
	ReportPath string     `json:"report_path,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (t *Task) copy() Task {
	cp := *t
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	cp.Results = append([]Result{}, t.Results...)
	return cp
}

// Reporter 为完成的回测生成报表文件,返回产物路径。
type Reporter interface {
	WriteRunReport(result Result, data map[string][]market.Candle) (string, error)
}

// SweepParams 描述一次参数扫描:同一数据集上依次尝试多组策略参数。
type SweepParams struct {
	Base      RunParams        `json:"base"`
	ParamSets []map[string]any `json:"param_sets"`
}

// ServiceConfig 配置回测任务服务。
type ServiceConfig struct {
	Backtester    *Backtester
	Reporter      Reporter
	MaxConcurrent int
	TaskTTL       time.Duration
}

// Service 管理回测任务:uuid 索引的任务表、并发上限与过期清理。
type Service struct {
	bt       *Backtester
	reporter Reporter
	sem      chan struct{}
	ttl      time.Duration

	mu    sync.RWMutex
	tasks map[string]*Task

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backtester == nil {
		return nil, fmt.Errorf("backtester 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	ttl := cfg.TaskTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		bt:       cfg.Backtester,
		reporter: cfg.Reporter,
		sem:      make(chan struct{}, maxConcurrent),
		ttl:      ttl,
		tasks:    make(map[string]*Task),
		baseCtx:  context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx,用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// SubmitRun 提交一次回测,立即返回 pending 任务。
func (s *Service) SubmitRun(params RunParams) (Task, error) {
	if err := params.normalize(s.bt.Defaults()); err != nil {
		return Task{}, err
	}
	task := s.newTask(TaskKindRun, params)
	go s.execute(task.ID, func(ctx context.Context, progress func(float64)) error {
		data, err := s.bt.LoadData(ctx, params.Symbols, params.Timeframe, params.Days)
		if err != nil {
			return err
		}
		result, err := s.bt.Run(ctx, params, data, progress)
		if err != nil {
			return err
		}
		reportPath := s.writeReport(result, data)
		s.update(task.ID, func(t *Task) {
			t.Result = &result
			t.ReportPath = reportPath
		})
		return nil
	})
	return task, nil
}

// SubmitSweep 提交一次参数扫描。数据只拉取一次,各参数组共享;
// 结果按收益率倒序保存。
func (s *Service) SubmitSweep(params SweepParams) (Task, error) {
	if err := params.Base.normalize(s.bt.Defaults()); err != nil {
		return Task{}, err
	}
	if len(params.ParamSets) == 0 {
		return Task{}, fmt.Errorf("param_sets 不能为空")
	}
	task := s.newTask(TaskKindSweep, params.Base)
	go s.execute(task.ID, func(ctx context.Context, progress func(float64)) error {
		data, err := s.bt.LoadData(ctx, params.Base.Symbols, params.Base.Timeframe, params.Base.Days)
		if err != nil {
			return err
		}
		results := make([]Result, 0, len(params.ParamSets))
		for i, set := range params.ParamSets {
			run := params.Base
			run.Params = set
			result, err := s.bt.Run(ctx, run, data, nil)
			if err != nil {
				return fmt.Errorf("参数组 %d 回测失败: %w", i+1, err)
			}
			results = append(results, result)
			progress(float64(i+1) / float64(len(params.ParamSets)))
		}
		sortResultsByReturn(results)
		s.update(task.ID, func(t *Task) { t.Results = results })
		return nil
	})
	return task, nil
}

func (s *Service) newTask(kind string, params RunParams) Task {
	now := time.Now()
	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    TaskStatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.evictExpiredLocked(now)
	s.tasks[task.ID] = task
	s.mu.Unlock()
	logger.Infof("[backtest] 任务 %s 提交: kind=%s strategy=%s symbols=%v", task.ID, kind, params.Strategy, params.Symbols)
	return task.copy()
}

func (s *Service) execute(taskID string, fn func(ctx context.Context, progress func(float64)) error) {
	select {
	case s.sem <- struct{}{}:
	case <-s.baseCtx.Done():
		s.finish(taskID, TaskStatusError, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	s.update(taskID, func(t *Task) { t.Status = TaskStatusRunning })
	progress := func(v float64) {
		s.update(taskID, func(t *Task) { t.Progress = v })
	}
	if err := fn(s.baseCtx, progress); err != nil {
		logger.Errorf("[backtest] 任务 %s 失败: %v", taskID, err)
		s.finish(taskID, TaskStatusError, err.Error())
		return
	}
	s.finish(taskID, TaskStatusDone, "")
}

func (s *Service) writeReport(result Result, data map[string][]market.Candle) string {
	if s.reporter == nil {
		return ""
	}
	path, err := s.reporter.WriteRunReport(result, data)
	if err != nil {
		logger.Warnf("[backtest] 生成报表失败: %v", err)
		return ""
	}
	return path
}

func (s *Service) finish(taskID, status, message string) {
	s.update(taskID, func(t *Task) {
		now := time.Now()
		t.Status = status
		t.Message = message
		t.FinishedAt = &now
		if status == TaskStatusDone {
			t.Progress = 1
		}
	})
}

func (s *Service) update(id string, fn func(*Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		fn(task)
		task.UpdatedAt = time.Now()
	}
}

// evictExpiredLocked 清理结束超过 TTL 的任务。调用方持锁。
func (s *Service) evictExpiredLocked(now time.Time) {
	for id, task := range s.tasks {
		if task.FinishedAt != nil && now.Sub(*task.FinishedAt) > s.ttl {
			delete(s.tasks, id)
		}
	}
}

// TaskSnapshot 返回任务副本,供轮询。
func (s *Service) TaskSnapshot(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return task.copy(), true
}

// TasksSnapshot 返回全部任务副本,新任务在前。
func (s *Service) TasksSnapshot() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
