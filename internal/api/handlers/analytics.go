package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"shopbridge/internal/tiktok"
)

const shopPerformancePath = "/analytics/202405/shop/performance"

// AnalyticsHandler proxies shop performance queries to the TikTok Shop API
type AnalyticsHandler struct {
	executor Executor
	logger   *slog.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(executor Executor, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		executor: executor,
		logger:   logger,
	}
}

// GetShopPerformance fetches shop performance metrics for a date range
// GET /shops/:shop_id/analytics/performance?start_date=...&end_date=...
func (h *AnalyticsHandler) GetShopPerformance(c *gin.Context) {
	shopID := c.Param("shop_id")

	startDate := c.Query("start_date")
	endDate := c.Query("end_date")
	if startDate == "" || endDate == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "start_date and end_date are required")
		return
	}

	query := tiktok.Values{
		"start_date_ge": tiktok.String(startDate),
		"end_date_lt":   tiktok.String(endDate),
	}
	if granularity := c.Query("granularity"); granularity != "" {
		query["granularity"] = tiktok.String(granularity)
	}

	data, err := h.executor.Call(c.Request.Context(), shopID, http.MethodGet, shopPerformancePath, query, nil)
	if err != nil {
		respondUpstream(c, h.logger, shopID, err)
		return
	}

	respondOK(c, data)
}
