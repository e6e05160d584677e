package middleware

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/version"
)

// VersionResponse is the body of the version endpoint.
type VersionResponse struct {
	Service      string `json:"service"`
	GitVersion   string `json:"gitVersion"`
	GitCommit    string `json:"gitCommit,omitempty"`
	GitTreeState string `json:"gitTreeState,omitempty"`
	BuildDate    string `json:"buildDate,omitempty"`
	GoVersion    string `json:"goVersion,omitempty"`
	Platform     string `json:"platform,omitempty"`
}

// Version 返回构建信息。构建时未注入服务名则使用 service；hideDetails 时只给出版本号。
func Version(service string, hideDetails bool) gin.HandlerFunc {
	info := version.Get()
	resp := VersionResponse{Service: service, GitVersion: info.GitVersion}
	if info.ServiceName != "" {
		resp.Service = info.ServiceName
	}
	if !hideDetails {
		resp.GitCommit = info.GitCommit
		resp.GitTreeState = info.GitTreeState
		resp.BuildDate = info.BuildDate
		resp.GoVersion = info.GoVersion
		if resp.GoVersion == "" {
			resp.GoVersion = runtime.Version()
		}
		resp.Platform = info.Platform
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, resp)
	}
}
