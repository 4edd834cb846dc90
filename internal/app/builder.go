package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"papertrade/internal/backtest"
	"papertrade/internal/candlecache"
	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/gateway"
	"papertrade/internal/logger"
	"papertrade/internal/market"
	"papertrade/internal/portfolio"
	"papertrade/internal/report"
	"papertrade/internal/store/gormstore"
	"papertrade/internal/strategy"
	httpapi "papertrade/internal/transport/http"
)

// AppBuilder 手工装配全部依赖,Build 出可运行的 App。
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	store, err := gormstore.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	cache, err := provideCandleCache(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	source, err := provideSource(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	pf, err := portfolio.New(portfolio.Config{
		InitialBalance:   cfg.Trading.InitialBalance,
		FeeRate:          cfg.Trading.FeeRate,
		MaxPositionPct:   cfg.Trading.MaxPositionPct,
		MaxOpenPositions: cfg.Trading.MaxOpenPositions,
	}, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	strat, err := strategy.New(cfg.Strategy.Active, cfg.Strategy.ParamsFor(cfg.Strategy.Active))
	if err != nil {
		store.Close()
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		Symbols:        cfg.Exchange.Symbols,
		Timeframe:      cfg.Exchange.Timeframe,
		Lookback:       cfg.Exchange.Lookback,
		Interval:       time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		RunImmediately: cfg.Scheduler.RunImmediately,
		StopLossPct:    cfg.Trading.StopLossPct,
		TakeProfitPct:  cfg.Trading.TakeProfitPct,
	}, source, pf, strat, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	backtests, err := provideBacktestService(cfg, source, cache)
	if err != nil {
		store.Close()
		return nil, err
	}

	httpSrv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Engine:    eng,
		Store:     store,
		Backtests: backtests,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	logger.InfoBlock(fmt.Sprintf(
		"启动概要\n交易对: %s\n周期: %s\n策略: %s\n初始资金: %.2f\n监听: %s",
		strings.Join(cfg.Exchange.Symbols, ", "), cfg.Exchange.Timeframe,
		strat.Name(), cfg.Trading.InitialBalance, cfg.App.HTTPAddr))

	return &App{
		cfg:       cfg,
		store:     store,
		cache:     cache,
		engine:    eng,
		backtests: backtests,
		httpSrv:   httpSrv,
	}, nil
}

func provideCandleCache(cfg *config.Config) (*candlecache.Cache, error) {
	dir := strings.TrimSpace(cfg.Database.CandleCacheDir)
	if dir == "" {
		return nil, nil
	}
	cache, err := candlecache.New(dir)
	if err != nil {
		return nil, fmt.Errorf("初始化K线缓存失败: %w", err)
	}
	return cache, nil
}

func provideSource(cfg *config.Config) (market.Source, error) {
	return gateway.NewSourceFromConfig(cfg)
}

func provideBacktestService(cfg *config.Config, source market.Source, cache *candlecache.Cache) (*backtest.Service, error) {
	bt, err := backtest.NewBacktester(backtest.BacktesterConfig{
		Timeframe:        cfg.Exchange.Timeframe,
		DefaultDays:      cfg.Backtest.DefaultDays,
		InitialBalance:   cfg.Trading.InitialBalance,
		FeeRate:          cfg.Trading.FeeRate,
		MaxPositionPct:   cfg.Trading.MaxPositionPct,
		MaxOpenPositions: cfg.Trading.MaxOpenPositions,
		FetchPerSecond:   cfg.Backtest.FetchPerSecond,
	}, source, candleCacheOrNil(cache))
	if err != nil {
		return nil, err
	}
	var reporter backtest.Reporter
	if dir := strings.TrimSpace(cfg.Backtest.ReportDir); dir != "" {
		writer, err := report.NewWriter(dir)
		if err != nil {
			return nil, err
		}
		reporter = writer
	}
	return backtest.NewService(backtest.ServiceConfig{
		Backtester:    bt,
		Reporter:      reporter,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
		TaskTTL:       time.Duration(cfg.Backtest.TaskTTLMinutes) * time.Minute,
	})
}

// candleCacheOrNil 避免把带类型的 nil 指针塞进接口。
func candleCacheOrNil(cache *candlecache.Cache) backtest.CandleCache {
	if cache == nil {
		return nil
	}
	return cache
}
