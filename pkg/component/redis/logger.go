package redis

import (
	"context"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
)

// loggingAdapter 把 go-redis 的内部日志（重连、连接池告警）转到统一日志。
type loggingAdapter struct{}

func (l *loggingAdapter) Printf(ctx context.Context, format string, v ...interface{}) {
	logger.Global().WithCtx(ctx).Warnf("redis: "+format, v...)
}

func init() {
	goredis.SetLogger(&loggingAdapter{})
}
