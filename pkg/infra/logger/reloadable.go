package logger

import (
	"fmt"
	"sync"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/config"
	logopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/logger"
)

var _ config.Reloadable = (*ReloadableLogger)(nil)

// ReloadableLogger 配置文件中 log 段变化时重建全局日志。
// 可热更新: level, format, development, output-paths。
type ReloadableLogger struct {
	mu             sync.Mutex
	opts           *logopts.Options
	serviceName    string
	serviceVersion string
}

// NewReloadableLogger creates a ReloadableLogger for an initialized logger.
func NewReloadableLogger(opts *logopts.Options, serviceName, serviceVersion string) *ReloadableLogger {
	return &ReloadableLogger{opts: opts, serviceName: serviceName, serviceVersion: serviceVersion}
}

// OnConfigChange 校验新配置后重建日志，失败时保留旧配置。
func (rl *ReloadableLogger) OnConfigChange(newConfig any) error {
	next, ok := newConfig.(*logopts.Options)
	if !ok {
		return fmt.Errorf("invalid config type: expected *logger.Options, got %T", newConfig)
	}
	if errs := next.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid logger configuration: %w", errs[0])
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	candidate := logopts.NewOptions()
	*candidate.LogOption = *rl.opts.LogOption
	candidate.Level = next.Level
	candidate.Format = next.Format
	candidate.Development = next.Development
	candidate.OutputPaths = append([]string(nil), next.OutputPaths...)

	if err := candidate.Init(rl.serviceName, rl.serviceVersion); err != nil {
		return fmt.Errorf("failed to apply logger config: %w", err)
	}
	rl.opts = candidate
	logger.Infow("logger configuration reloaded", "level", candidate.Level, "format", candidate.Format)
	return nil
}

// Level returns the active log level.
func (rl *ReloadableLogger) Level() string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.opts.Level
}

// Register subscribes the logger to the "log" section of the watched config.
func (rl *ReloadableLogger) Register(w *config.Watcher) {
	w.Subscribe("logger", config.NewReloadableSubscriber(rl, "log", logopts.NewOptions).Handler())
}
