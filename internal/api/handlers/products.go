package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shopbridge/internal/storage"
	"shopbridge/internal/tiktok"
)

const (
	productSearchPath = "/product/202309/products/search"
	productDetailPath = "/product/202309/products/"
)

// ProductHandler proxies product operations to the TikTok Shop API and
// serves the locally synced product snapshot
type ProductHandler struct {
	storage  storage.Storage
	executor Executor
	logger   *slog.Logger
}

// NewProductHandler creates a new product handler
func NewProductHandler(storage storage.Storage, executor Executor, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{
		storage:  storage,
		executor: executor,
		logger:   logger,
	}
}

// SearchProducts runs a product search on the provider
// POST /shops/:shop_id/products/search
func (h *ProductHandler) SearchProducts(c *gin.Context) {
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

	data, err := h.executor.Call(c.Request.Context(), shopID, http.MethodPost, productSearchPath, query, filters)
	if err != nil {
		respondUpstream(c, h.logger, shopID, err)
		return
	}

	respondOK(c, data)
}

// GetProduct fetches one product by id from the provider
// GET /shops/:shop_id/products/:product_id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	shopID := c.Param("shop_id")
	productID := c.Param("product_id")

	data, err := h.executor.Call(c.Request.Context(), shopID, http.MethodGet, productDetailPath+productID, nil, nil)
	if err != nil {
		respondUpstream(c, h.logger, shopID, err)
		return
	}

	respondOK(c, data)
}

// ListSyncedProducts returns the locally synced product snapshot for a shop
// GET /shops/:shop_id/products
func (h *ProductHandler) ListSyncedProducts(c *gin.Context) {
	shopID := c.Param("shop_id")

	products, err := h.storage.ListProductsByShop(c.Request.Context(), shopID)
	if err != nil {
		h.logger.Error("Failed to list synced products",
			"component", "api",
			"shop_id", shopID,
			"error", err,
		)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list products")
		return
	}

	out := make([]gin.H, 0, len(products))
	for _, p := range products {
		out = append(out, gin.H{
			"id":        p.ID,
			"title":     p.Title,
			"status":    p.Status,
			"price":     p.Price,
			"currency":  p.Currency,
			"synced_at": p.SyncedAt.UTC().Format(time.RFC3339),
		})
	}

	respondOK(c, gin.H{
		"shop_id":  shopID,
		"products": out,
	})
}
