package app

import (
	"context"
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"

	"papertrade/internal/backtest"
	"papertrade/internal/candlecache"
	"papertrade/internal/config"
	cfgloader "papertrade/internal/config/loader"
	"papertrade/internal/engine"
	"papertrade/internal/logger"
	"papertrade/internal/store/gormstore"
	httpapi "papertrade/internal/transport/http"
)

// App 负责应用级编排:加载配置→初始化依赖→启动引擎与 HTTP 服务。
type App struct {
	cfg       *config.Config
	store     *gormstore.Store
	cache     *candlecache.Cache
	engine    *engine.Engine
	backtests *backtest.Service
	httpSrv   *httpapi.Server
	watcher   *cfgloader.Watcher
}

// NewApp 根据配置文件构建应用对象(不启动),并开始监听配置变更。
func NewApp(cfgPath string) (*App, error) {
	watcher, err := cfgloader.NewWatcher(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg := watcher.Snapshot().Cfg
	logger.SetLevel(cfg.App.LogLevel)

	app, err := buildAppWithWire(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	app.watcher = watcher
	watcher.Subscribe(app.onConfigChange)
	return app, nil
}

// onConfigChange 处理配置热更新。目前只支持策略热切换,
// 其余字段的变更需要重启生效。
func (a *App) onConfigChange(snap cfgloader.Snapshot) {
	if snap.Cfg == nil || a.engine == nil {
		return
	}
	next := snap.Cfg.Strategy
	active := a.engine.ActiveStrategy()
	params := next.ParamsFor(next.Active)
	if next.Active == active && reflect.DeepEqual(params, a.cfg.Strategy.ParamsFor(active)) {
		return
	}
	if err := a.engine.ChangeStrategy(context.Background(), next.Active, params, "config"); err != nil {
		logger.Errorf("配置热更新切换策略失败: %v", err)
		return
	}
	a.cfg.Strategy = next
	logger.SetLevel(snap.Cfg.App.LogLevel)
}

// Run 启动引擎循环与 HTTP 服务,直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.engine == nil {
		return fmt.Errorf("engine not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.backtests != nil {
		a.backtests.SetContext(ctx)
	}

	group.Go(func() error {
		if err := a.engine.Start(ctx); err != nil {
			return fmt.Errorf("engine start error: %w", err)
		}
		<-ctx.Done()
		a.engine.Stop()
		return nil
	})

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	err := group.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warnf("关闭K线缓存失败: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("关闭数据库失败: %v", err)
		}
	}
}

// Engine 暴露底层引擎实例(供测试使用)。
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
