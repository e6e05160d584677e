// Package gormlog 把 GORM 日志接到 kart-io/logger。
package gormlog

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/kart-io/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowThreshold 慢查询阈值。
const DefaultSlowThreshold = 200 * time.Millisecond

// Logger adapts the global logger to GORM's logger interface.
type Logger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

var _ gormlogger.Interface = (*Logger)(nil)

// New 按配置级别创建：1 silent, 2 error, 3 warn, 4 info，其他值按 silent 处理。
func New(level int, slowThreshold time.Duration) *Logger {
	l := gormlogger.Silent
	if level >= int(gormlogger.Silent) && level <= int(gormlogger.Info) {
		l = gormlogger.LogLevel(level)
	}
	return &Logger{level: l, slowThreshold: slowThreshold}
}

// Level returns the active log level.
func (l *Logger) Level() gormlogger.LogLevel { return l.level }

func (l *Logger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *Logger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		logger.Global().WithCtx(ctx).Infof(msg, data...)
	}
}

func (l *Logger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		logger.Global().WithCtx(ctx).Warnf(msg, data...)
	}
}

func (l *Logger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		logger.Global().WithCtx(ctx).Errorf(msg, data...)
	}
}

// Trace 记录失败与慢查询；info 级别下记录所有语句。记录不存在不算错误。
func (l *Logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	ms := float64(elapsed.Nanoseconds()) / 1e6
	switch {
	case err != nil && l.level >= gormlogger.Error && !stderrors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		logger.Global().WithCtx(ctx).Errorw("database query failed",
			"error", err.Error(),
			"sql", sql,
			"rows", rows,
			"duration_ms", ms,
		)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		logger.Global().WithCtx(ctx).Warnw("slow database query",
			"sql", sql,
			"rows", rows,
			"duration_ms", ms,
			"threshold_ms", float64(l.slowThreshold.Nanoseconds())/1e6,
		)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		logger.Global().WithCtx(ctx).Debugw("database query executed",
			"sql", sql,
			"rows", rows,
			"duration_ms", ms,
		)
	}
}
