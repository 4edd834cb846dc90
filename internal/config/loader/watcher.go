package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"papertrade/internal/config"
	"papertrade/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Snapshot 对外暴露的只读配置快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Cfg      *config.Config
}

// ChangeListener 在配置文件变更并成功重载后被调用。
type ChangeListener func(Snapshot)

// Watcher 监听主配置文件的变更并热重载。
// 重载失败时保留旧快照,只记录错误。
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewWatcher 读取配置文件并开始监听 FS 事件。
func NewWatcher(path string) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, v: viper.New()}
	w.snapshot = Snapshot{Version: 1, LoadedAt: time.Now(), Cfg: cfg}
	w.v.SetConfigFile(path)
	if err := w.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w.v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		w.notify()
	})
	w.v.WatchConfig()
	return w, nil
}

// Snapshot 返回当前配置快照。
func (w *Watcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Subscribe 注册监听器,配置变更后异步回调。
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) notify() {
	w.mu.RLock()
	snap := w.snapshot
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("config listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (w *Watcher) reload() error {
	cfg, err := config.Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	version := w.snapshot.Version + 1
	w.snapshot = Snapshot{
		Version:  version,
		LoadedAt: time.Now(),
		Cfg:      cfg,
	}
	w.mu.Unlock()
	logger.Infof("配置已重载: %s (version=%d)", filepath.Base(w.path), version)
	return nil
}
