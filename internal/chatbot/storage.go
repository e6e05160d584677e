package chatbot

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/kart-io/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/store"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/component/gormlog"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/component/mongodb"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/component/mysql"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/component/postgres"
	storageopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/storage"
)

// openStore 按驱动建立连接，返回存储与关闭函数。
func openStore(ctx context.Context, cfg *Config) (store.Factory, func() error, error) {
	switch cfg.StorageOptions.Driver {
	case storageopts.DriverPostgres:
		client, err := postgres.New(ctx, cfg.PostgresOptions)
		if err != nil {
			return nil, nil, err
		}
		return store.NewGORM(client.DB()), client.Close, nil

	case storageopts.DriverMySQL:
		client, err := mysql.New(ctx, cfg.MySQLOptions)
		if err != nil {
			return nil, nil, err
		}
		return store.NewGORM(client.DB()), client.Close, nil

	case storageopts.DriverMongoDB:
		client, err := mongodb.New(ctx, cfg.MongoDBOptions)
		if err != nil {
			return nil, nil, err
		}
		return store.NewMongo(client.Database()), client.Close, nil

	case storageopts.DriverSQLite:
		db, err := gorm.Open(sqlite.Open(cfg.StorageOptions.SQLitePath), &gorm.Config{
			Logger:  gormlog.New(int(gormlogger.Warn), gormlog.DefaultSlowThreshold),
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite %s: %w", cfg.StorageOptions.SQLitePath, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		// sqlite 只允许一个写连接
		sqlDB.SetMaxOpenConns(1)
		logger.Warnw("using sqlite chat store, not suitable for multiple replicas", "path", cfg.StorageOptions.SQLitePath)
		return store.NewGORM(db), sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageOptions.Driver)
}
