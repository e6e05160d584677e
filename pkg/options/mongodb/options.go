// Package mongodb MongoDB 连接配置项。
package mongodb

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options defines configuration options for MongoDB.
type Options struct {
	// URI 设置后忽略 Host/Port/Username/Password
	URI      string `json:"uri" mapstructure:"uri"`
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`

	MaxPoolSize            uint64        `json:"max-pool-size" mapstructure:"max-pool-size"`
	MinPoolSize            uint64        `json:"min-pool-size" mapstructure:"min-pool-size"`
	ConnectTimeout         time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ServerSelectionTimeout time.Duration `json:"server-selection-timeout" mapstructure:"server-selection-timeout"`
	AuthSource             string        `json:"auth-source" mapstructure:"auth-source"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Host:                   "127.0.0.1",
		Port:                   27017,
		Database:               "chatbot",
		MaxPoolSize:            100,
		MinPoolSize:            5,
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 30 * time.Second,
		AuthSource:             "admin",
	}
}

// BuildURI returns the connection URI, escaping credentials.
func (o *Options) BuildURI() string {
	if o.URI != "" {
		return o.URI
	}
	u := url.URL{Scheme: "mongodb", Host: fmt.Sprintf("%s:%d", o.Host, o.Port), Path: "/"}
	if o.Username != "" {
		u.User = url.UserPassword(o.Username, o.Password)
		u.RawQuery = url.Values{"authSource": []string{o.AuthSource}}.Encode()
	}
	return u.String()
}

// String returns a log-safe representation.
func (o *Options) String() string {
	return fmt.Sprintf("MongoDB{host=%s, port=%d, user=%s, password=%s, database=%s}",
		o.Host, o.Port, o.Username, options.Redact(o.Password), o.Database)
}

// Complete 密码为空时从 MONGODB_PASSWORD 环境变量读取。
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("MONGODB_PASSWORD")
	}
	return nil
}

// Validate checks the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.URI == "" && o.Host == "" {
		errs = append(errs, fmt.Errorf("mongodb uri or host is required"))
	}
	if o.Database == "" {
		errs = append(errs, fmt.Errorf("mongodb database is required"))
	}
	if o.MinPoolSize > o.MaxPoolSize {
		errs = append(errs, fmt.Errorf("mongodb min-pool-size %d exceeds max-pool-size %d", o.MinPoolSize, o.MaxPoolSize))
	}
	return errs
}

// AddFlags adds flags for MongoDB options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "mongodb."
	fs.StringVar(&o.URI, p+"uri", o.URI, "MongoDB connection URI; overrides host/port/credentials.")
	fs.StringVar(&o.Host, p+"host", o.Host, "MongoDB host.")
	fs.IntVar(&o.Port, p+"port", o.Port, "MongoDB port.")
	fs.StringVar(&o.Username, p+"username", o.Username, "MongoDB username.")
	fs.StringVar(&o.Database, p+"database", o.Database, "MongoDB database.")
	fs.Uint64Var(&o.MaxPoolSize, p+"max-pool-size", o.MaxPoolSize, "Maximum connection pool size.")
	fs.Uint64Var(&o.MinPoolSize, p+"min-pool-size", o.MinPoolSize, "Minimum connection pool size.")
	fs.DurationVar(&o.ConnectTimeout, p+"connect-timeout", o.ConnectTimeout, "Connect timeout.")
	fs.DurationVar(&o.ServerSelectionTimeout, p+"server-selection-timeout", o.ServerSelectionTimeout, "Server selection timeout.")
	fs.StringVar(&o.AuthSource, p+"auth-source", o.AuthSource, "Authentication database.")
}
