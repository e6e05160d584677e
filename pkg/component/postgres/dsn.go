package postgres

import (
	"fmt"
	"strings"

	pgopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/postgres"
)

// BuildDSN 生成 key=value 形式的连接串，密码按需加引号转义。
//
//	host=localhost port=5432 user=postgres password=secret dbname=chatbot sslmode=disable
func BuildDSN(opts *pgopts.Options) string {
	if opts == nil {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		opts.Host,
		opts.Port,
		opts.Username,
		escapeValue(opts.Password),
		opts.Database,
		opts.SSLMode,
	)
}

// escapeValue 含空格、单引号或反斜杠时用单引号包裹并转义。
func escapeValue(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " '\\") {
		return value
	}
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")
	return "'" + escaped + "'"
}
