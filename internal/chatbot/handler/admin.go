package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
)

// metricsNamespace Prometheus 指标前缀。
const metricsNamespace = "chatbot"

// AdminHandler serves operational endpoints.
type AdminHandler struct {
	cache   CacheClearer
	metrics *metrics.ChatMetrics
}

// NewAdminHandler creates an AdminHandler. cache may be nil.
func NewAdminHandler(cache CacheClearer, m *metrics.ChatMetrics) *AdminHandler {
	return &AdminHandler{cache: cache, metrics: m}
}

// ClearCache handles DELETE /v1/admin/cache/retrieval.
func (h *AdminHandler) ClearCache(c *gin.Context) {
	if h.cache == nil {
		response.Fail(c, errors.ErrNotFound.WithMessage("retrieval cache is not enabled"))
		return
	}
	n, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		response.Fail(c, errors.ErrCache.WithCause(err))
		return
	}
	response.OK(c, gin.H{"deleted": n})
}

// Metrics handles GET /metrics.
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.String(http.StatusOK, h.metrics.Export(metricsNamespace, ""))
}

// Stats handles GET /v1/admin/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	response.OK(c, h.metrics.Stats())
}
