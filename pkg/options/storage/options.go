// Package storage 会话存储后端选择。
package storage

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 支持的存储驱动。
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMongoDB  = "mongodb"
	DriverSQLite   = "sqlite"
)

// Options selects the chat/message store backend.
type Options struct {
	Driver string `json:"driver" mapstructure:"driver"`
	// SQLitePath 仅 sqlite 驱动使用，":memory:" 表示内存库
	SQLitePath string `json:"sqlite-path" mapstructure:"sqlite-path"`
	// AutoMigrate 启动时建表/建索引
	AutoMigrate bool `json:"auto-migrate" mapstructure:"auto-migrate"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Driver:      DriverSQLite,
		SQLitePath:  "chatbot.db",
		AutoMigrate: true,
	}
}

// AddFlags adds flags for storage options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "storage."
	fs.StringVar(&o.Driver, p+"driver", o.Driver, "Chat store driver (postgres|mysql|mongodb|sqlite).")
	fs.StringVar(&o.SQLitePath, p+"sqlite-path", o.SQLitePath, "SQLite database file, used by the sqlite driver.")
	fs.BoolVar(&o.AutoMigrate, p+"auto-migrate", o.AutoMigrate, "Create tables and indexes on startup.")
}

// Validate validates the storage options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	switch o.Driver {
	case DriverPostgres, DriverMySQL, DriverMongoDB:
	case DriverSQLite:
		if o.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite-path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of postgres|mysql|mongodb|sqlite", o.Driver))
	}
	return errs
}
