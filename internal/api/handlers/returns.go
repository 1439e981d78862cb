package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"shopbridge/internal/tiktok"
)

const (
	returnSearchPath       = "/return_refund/202309/returns/search"
	cancellationSearchPath = "/return_refund/202309/cancellations/search"
)

// ReturnHandler proxies return and cancellation searches to the TikTok
// Shop API. Both endpoints share the same request shape.
type ReturnHandler struct {
	executor Executor
	logger   *slog.Logger
}

// NewReturnHandler creates a new return handler
func NewReturnHandler(executor Executor, logger *slog.Logger) *ReturnHandler {
	return &ReturnHandler{
		executor: executor,
		logger:   logger,
	}
}

// SearchReturns runs a return search on the provider
// POST /shops/:shop_id/returns/search
func (h *ReturnHandler) SearchReturns(c *gin.Context) {
	h.search(c, returnSearchPath)
}

// SearchCancellations runs a cancellation search on the provider
// POST /shops/:shop_id/cancellations/search
func (h *ReturnHandler) SearchCancellations(c *gin.Context) {
	h.search(c, cancellationSearchPath)
}

func (h *ReturnHandler) search(c *gin.Context, apiPath string) {
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

	data, err := h.executor.Call(c.Request.Context(), shopID, http.MethodPost, apiPath, query, filters)
	if err != nil {
		respondUpstream(c, h.logger, shopID, err)
		return
	}

	respondOK(c, data)
}
