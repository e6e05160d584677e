package mysql

import (
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	mysqlopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/mysql"
)

// BuildDSN 由驱动格式化连接串，密码中的特殊字符无需手工转义。
//
//	root:secret@tcp(127.0.0.1:3306)/chatbot?charset=utf8mb4&loc=UTC&parseTime=true
func BuildDSN(opts *mysqlopts.Options) string {
	cfg := gomysql.NewConfig()
	cfg.User = opts.Username
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}
