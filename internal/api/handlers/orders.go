package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"shopbridge/internal/tiktok"
)

const (
	orderSearchPath = "/order/202309/orders/search"
	orderDetailPath = "/order/202309/orders"
)

// OrderHandler proxies order operations to the TikTok Shop API
type OrderHandler struct {
	executor Executor
	logger   *slog.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(executor Executor, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		executor: executor,
		logger:   logger,
	}
}

// SearchOrders runs an order search on the provider
// POST /shops/:shop_id/orders/search
func (h *OrderHandler) SearchOrders(c *gin.Context) {
	shopID := c.Param("shop_id")

	filters := map[string]any{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&filters); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
			return
		}
	}

	query := tiktok.Values{
		"page_size": tiktok.String(c.DefaultQuery("page_size", "20")),
	}
	if pageToken := c.Query("page_token"); pageToken != "" {
		query["page_token"] = tiktok.String(pageToken)
	}
	if sortField := c.Query("sort_field"); sortField != "" {
		query["sort_field"] = tiktok.String(sortField)
	}

	data, err := h.executor.Call(c.Request.Context(), shopID, http.MethodPost, orderSearchPath, query, filters)
	if err != nil {
		respondUpstream(c, h.logger, shopID, err)
		return
	}

	respondOK(c, data)
}

// GetOrders fetches order detail for up to 50 order ids
// GET /shops/:shop_id/orders?ids=a,b,c
func (h *OrderHandler) GetOrders(c *gin.Context) {
	shopID := c.Param("shop_id")

	raw := c.Query("ids")
	if raw == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "ids is required")
		return
	}
	ids := strings.Split(raw, ",")
	if len(ids) > 50 {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "At most 50 order ids per request")
		return
	}

	query := tiktok.Values{
		"ids": tiktok.List(ids),
	}

	data, err := h.executor.Call(c.Request.Context(), shopID, http.MethodGet, orderDetailPath, query, nil)
	if err != nil {
		respondUpstream(c, h.logger, shopID, err)
		return
	}

	respondOK(c, data)
}
