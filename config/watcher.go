// 配置文件变更监听器。
//
// 轮询文件修改时间，变更后重新加载并校验，只有通过校验的新配置才会
// 通知订阅者。
package config

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultWatchInterval 是修改时间轮询间隔
const defaultWatchInterval = 2 * time.Second

// ReloadFunc 在配置文件变更且新配置通过校验后被调用
type ReloadFunc func(cfg *Config)

// Watcher 监听单个配置文件并热重载
type Watcher struct {
	mu sync.RWMutex

	path     string
	interval time.Duration
	loader   *Loader
	logger   *zap.Logger

	current     *Config
	lastModTime time.Time
	callbacks   []ReloadFunc
}

// NewWatcher 创建配置监听器。initial 为当前生效配置。
func NewWatcher(path string, initial *Config, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		loader:   NewLoader().WithConfigPath(path).WithValidator((*Config).Validate),
		logger:   logger.With(zap.String("component", "config-watcher")),
		current:  initial,
	}
}

// OnReload 注册配置变更回调
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current 返回当前生效的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Watch 阻塞运行直到 ctx 取消
func (w *Watcher) Watch(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if info, err := os.Stat(w.path); err == nil {
		w.lastModTime = info.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		// 文件暂时不可见（编辑器原子替换中），下一轮再看
		return
	}
	if !info.ModTime().After(w.lastModTime) {
		return
	}
	w.lastModTime = info.ModTime()

	cfg, err := w.loader.Load()
	if err != nil {
		// 坏配置不生效，保留旧配置
		w.logger.Warn("ignoring invalid config change", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := make([]ReloadFunc, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
