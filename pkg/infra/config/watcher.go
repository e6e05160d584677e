// Package config 配置文件热更新：基于 viper + fsnotify 监听文件，按订阅顺序通知各组件。
package config

import (
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"
	"github.com/spf13/viper"
)

// ChangeHandler 配置文件变化时调用，返回错误只记录日志。
type ChangeHandler func(v *viper.Viper) error

// Watcher manages configuration file watching and change notifications.
type Watcher struct {
	viper    *viper.Viper
	mu       sync.RWMutex
	handlers map[string]ChangeHandler
	watching bool
}

// NewWatcher creates a Watcher. v must already have a config file loaded.
func NewWatcher(v *viper.Viper) *Watcher {
	return &Watcher{viper: v, handlers: make(map[string]ChangeHandler)}
}

// Subscribe registers or replaces the handler with the given id.
func (w *Watcher) Subscribe(id string, handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[id] = handler
	logger.Debugw("config watcher subscribed", "handler", id)
}

// Unsubscribe removes a handler. Unknown ids are ignored.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.handlers, id)
}

// Start 开始监听，重复调用无副作用。没有配置文件时不监听。
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return
	}
	if w.viper.ConfigFileUsed() == "" {
		logger.Info("no config file in use, hot reload disabled")
		return
	}
	w.watching = true

	w.viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Infow("config file changed", "file", e.Name, "op", e.Op.String())
		w.notify()
	})
	w.viper.WatchConfig()
	logger.Infow("config watcher started", "file", w.viper.ConfigFileUsed())
}

// Stop 停止分发变更。viper 无法停止底层的文件监听。
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watching = false
}

// IsWatching reports whether changes are being dispatched.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// notify 按 id 排序依次调用，单个失败不影响其它订阅者。
func (w *Watcher) notify() {
	w.mu.RLock()
	if !w.watching {
		w.mu.RUnlock()
		return
	}
	ids := make([]string, 0, len(w.handlers))
	for id := range w.handlers {
		ids = append(ids, id)
	}
	handlers := make(map[string]ChangeHandler, len(w.handlers))
	for id, h := range w.handlers {
		handlers[id] = h
	}
	w.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := handlers[id](w.viper); err != nil {
			logger.Errorw("config reload rejected", "handler", id, "error", err.Error())
			continue
		}
		logger.Infow("config reloaded", "handler", id)
	}
}
