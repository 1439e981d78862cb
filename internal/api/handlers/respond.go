package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"shopbridge/internal/core"
	"shopbridge/internal/tiktok"
)

// respondOK wraps data in the success envelope the admin frontend consumes
func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError wraps a failure in the error envelope
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondUpstream maps executor and lifecycle failures onto admin API
// responses. Auth failures become a re-authorization prompt; everything
// from the provider side is surfaced with its upstream message.
func respondUpstream(c *gin.Context, logger *slog.Logger, shopID string, err error) {
	var bizErr *tiktok.BusinessError
	var transportErr *tiktok.TransportError

	switch {
	case errors.Is(err, tiktok.ErrAuthRequired),
		errors.Is(err, core.ErrNoToken),
		errors.Is(err, core.ErrTokenNotFound),
		errors.Is(err, core.ErrReauthorizationRequired):
		respondError(c, http.StatusUnauthorized, "AUTH_REQUIRED", "Shop must be re-authorized")
	case errors.Is(err, core.ErrShopNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Shop not found")
	case errors.As(err, &bizErr):
		logger.Error("Upstream business error",
			"component", "api",
			"shop_id", shopID,
			"path", bizErr.Path,
			"code", bizErr.Code,
			"message", bizErr.Message,
			"upstream_request_id", bizErr.RequestID,
		)
		respondError(c, http.StatusBadGateway, "UPSTREAM_ERROR", bizErr.Message)
	case errors.As(err, &transportErr):
		logger.Error("Upstream transport error",
			"component", "api",
			"shop_id", shopID,
			"path", transportErr.Path,
			"status", transportErr.Status,
		)
		respondError(c, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "TikTok API request failed")
	default:
		logger.Error("Request failed",
			"component", "api",
			"shop_id", shopID,
			"error", err,
		)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
