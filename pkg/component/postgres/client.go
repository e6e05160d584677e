// Package postgres 会话存储使用的 PostgreSQL 连接。
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	postgresdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/component/gormlog"
	pgopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/postgres"
)

// Client wraps gorm.DB for PostgreSQL.
type Client struct {
	db   *gorm.DB
	opts *pgopts.Options
}

// New 校验配置、建立连接并设置连接池，连接不可用时返回错误。
func New(ctx context.Context, opts *pgopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("postgres options cannot be nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid postgres options: %w", utilerrors.NewAggregate(errs))
	}

	db, err := gorm.Open(postgresdriver.Open(BuildDSN(opts)), &gorm.Config{
		Logger:  gormlog.New(opts.LogLevel, gormlog.DefaultSlowThreshold),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(opts.MaxConnectionLifeTime)

	c := &Client{db: db, opts: opts}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Name returns the component name.
func (c *Client) Name() string {
	return "postgres"
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.sqlDB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c *Client) sqlDB() (*sql.DB, error) {
	if c.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return c.db.DB()
}
