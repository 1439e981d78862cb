package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shopbridge/internal/cache"
	"shopbridge/internal/core"
	"shopbridge/internal/storage"
)

// ShopHandler serves the stored shop catalog and live shop info
type ShopHandler struct {
	storage  storage.Storage
	executor Executor
	tokens   TokenManager
	cache    cache.ShopInfoCache
	logger   *slog.Logger
}

// NewShopHandler creates a new shop handler
func NewShopHandler(storage storage.Storage, executor Executor, tokens TokenManager, infoCache cache.ShopInfoCache, logger *slog.Logger) *ShopHandler {
	if infoCache == nil {
		infoCache = cache.Noop{}
	}
	return &ShopHandler{
		storage:  storage,
		executor: executor,
		tokens:   tokens,
		cache:    infoCache,
		logger:   logger,
	}
}

// ListShops returns every active shop with its authorization state
// GET /shops
func (h *ShopHandler) ListShops(c *gin.Context) {
	ctx := c.Request.Context()

	shops, err := h.storage.ListActiveShops(ctx)
	if err != nil {
		h.logger.Error("Failed to list shops", "component", "api", "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list shops")
		return
	}

	out := make([]gin.H, 0, len(shops))
	for _, shop := range shops {
		entry := gin.H{
			"shop_id":     shop.ShopID,
			"name":        shop.Name,
			"region":      shop.Region,
			"seller_type": shop.SellerType,
			"scopes":      shop.Scopes,
			"is_active":   shop.IsActive,
		}
		if shop.LastSyncAt != nil {
			entry["last_sync_at"] = shop.LastSyncAt.UTC().Format(time.RFC3339)
		}

		token, err := h.storage.GetToken(ctx, core.ProviderShop, shop.ShopID)
		if err == nil {
			entry["is_authorized"] = !token.IsAccessExpired()
			entry["token_expires_at"] = token.ExpiresAt.UTC().Format(time.RFC3339)
		} else {
			entry["is_authorized"] = false
		}

		out = append(out, entry)
	}

	respondOK(c, gin.H{"shops": out})
}

// GetShopInfo returns live authorized-shop info for one shop, serving
// from the cache when it holds a fresh entry
// GET /shops/:shop_id/info
func (h *ShopHandler) GetShopInfo(c *gin.Context) {
	shopID := c.Param("shop_id")
	ctx := c.Request.Context()

	if info, ok := h.cache.Get(ctx, shopID); ok {
		respondOK(c, gin.H{
			"shop_id": shopID,
			"info":    info,
			"source":  "cache",
		})
		return
	}

	token, err := h.tokens.EnsureValid(ctx, shopID)
	if err != nil {
		respondUpstream(c, h.logger, shopID, err)
		return
	}

	shops, err := h.executor.GetAuthorizedShops(ctx, token.AccessToken)
	if err != nil {
		respondUpstream(c, h.logger, shopID, err)
		return
	}

	var info map[string]any
	for _, authorized := range shops {
		if authorized.ID == shopID {
			info = map[string]any{
				"id":          authorized.ID,
				"name":        authorized.Name,
				"region":      authorized.Region,
				"seller_type": authorized.SellerType,
				"cipher":      authorized.Cipher,
			}
			break
		}
	}
	if info == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Shop not present in authorized shop list")
		return
	}

	h.cache.Set(ctx, shopID, info)

	respondOK(c, gin.H{
		"shop_id": shopID,
		"info":    info,
		"source":  "provider",
	})
}
