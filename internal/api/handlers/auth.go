package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"shopbridge/internal/core"
	"shopbridge/internal/idgen"
	"shopbridge/internal/storage"
)

const stateTTL = 10 * time.Minute

// AuthConfig contains the OAuth handshake settings the handler needs
type AuthConfig struct {
	AuthorizeBase string
	ServiceID     string
	RedirectURI   string
}

// AuthHandler handles the OAuth authorization flow
type AuthHandler struct {
	storage  storage.Storage
	tokens   TokenManager
	executor Executor
	config   AuthConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(storage storage.Storage, tokens TokenManager, executor Executor, config AuthConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		storage:  storage,
		tokens:   tokens,
		executor: executor,
		config:   config,
		logger:   logger,
	}
}

// GetAuthURL generates an authorization URL for a shop
// GET /auth/url?shop_id=...
func (h *AuthHandler) GetAuthURL(c *gin.Context) {
	shopID := c.Query("shop_id")
	if shopID == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "shop_id is required")
		return
	}

	state := &core.OAuthState{
		State:     idgen.NewState(),
		ShopID:    shopID,
		ExpiresAt: time.Now().Add(stateTTL),
	}
	if err := h.storage.CreateOAuthState(c.Request.Context(), state); err != nil {
		h.logger.Error("Failed to store oauth state",
			"component", "api",
			"shop_id", shopID,
			"error", err,
		)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate authorization URL")
		return
	}

	q := url.Values{}
	q.Set("service_id", h.config.ServiceID)
	q.Set("state", state.State)
	if h.config.RedirectURI != "" {
		q.Set("redirect_uri", h.config.RedirectURI)
	}

	respondOK(c, gin.H{
		"auth_url":   h.config.AuthorizeBase + "?" + q.Encode(),
		"state":      state.State,
		"expires_in": int(stateTTL.Seconds()),
	})
}

// Callback completes the authorization: verifies the state, exchanges the
// code, persists the token and the shop records it grants access to
// GET /auth/callback?code=...&state=...
func (h *AuthHandler) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "code and state are required")
		return
	}

	ctx := c.Request.Context()

	pending, err := h.storage.ConsumeOAuthState(ctx, state, time.Now())
	if err != nil {
		if errors.Is(err, core.ErrStateNotFound) {
			respondError(c, http.StatusBadRequest, "INVALID_STATE", "State is invalid or expired")
			return
		}
		h.logger.Error("Failed to consume oauth state", "component", "api", "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Callback processing failed")
		return
	}

	data, err := h.tokens.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.Error("Code exchange failed",
			"component", "api",
			"shop_id", pending.ShopID,
			"error", err,
		)
		respondError(c, http.StatusBadGateway, "TOKEN_EXCHANGE_FAILED", "Authorization code exchange failed")
		return
	}

	token, err := h.tokens.SaveToken(ctx, pending.ShopID, data)
	if err != nil {
		h.logger.Error("Failed to persist token",
			"component", "api",
			"shop_id", pending.ShopID,
			"error", err,
		)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store token")
		return
	}

	h.upsertAuthorizedShops(c, pending.ShopID, token.AccessToken, data)

	respondOK(c, gin.H{
		"message":    "Shop authorized",
		"shop_id":    pending.ShopID,
		"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// upsertAuthorizedShops fetches shop metadata with the fresh token and
// stores it. Failure here is logged but does not fail the callback: the
// token is already saved and the shop record can be recovered on the
// next sync.
func (h *AuthHandler) upsertAuthorizedShops(c *gin.Context, shopID, accessToken string, data *core.TokenData) {
	ctx := c.Request.Context()

	shops, err := h.executor.GetAuthorizedShops(ctx, accessToken)
	if err != nil {
		h.logger.Error("Failed to fetch authorized shops after exchange",
			"component", "api",
			"shop_id", shopID,
			"error", err,
		)
		return
	}

	for _, authorized := range shops {
		shop := &core.Shop{
			ShopID:     authorized.ID,
			Name:       authorized.Name,
			Region:     authorized.Region,
			SellerType: authorized.SellerType,
			Cipher:     authorized.Cipher,
			Scopes:     data.GrantedScopes,
			IsActive:   true,
		}
		if err := h.storage.UpsertShop(ctx, shop); err != nil {
			h.logger.Error("Failed to upsert shop",
				"component", "api",
				"shop_id", authorized.ID,
				"error", err,
			)
		}
	}
}

// GetStatus reports whether a shop currently holds a valid token
// GET /auth/status?shop_id=...
func (h *AuthHandler) GetStatus(c *gin.Context) {
	shopID := c.Query("shop_id")
	if shopID == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "shop_id is required")
		return
	}

	ctx := c.Request.Context()

	if _, err := h.storage.GetShop(ctx, shopID); err != nil {
		if errors.Is(err, core.ErrShopNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "Shop not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load shop")
		return
	}

	token, err := h.storage.GetToken(ctx, core.ProviderShop, shopID)
	if err != nil && !errors.Is(err, core.ErrTokenNotFound) {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load token")
		return
	}

	authorized := token != nil && !token.IsAccessExpired()
	resp := gin.H{
		"shop_id":       shopID,
		"is_authorized": authorized,
	}
	if token != nil {
		resp["expires_at"] = token.ExpiresAt.UTC().Format(time.RFC3339)
		resp["scopes"] = token.Scopes()
	}

	respondOK(c, resp)
}

// GetToken reports the resolved token for a shop. With no shop_id the
// shop is inferred from the set of valid tokens, which is how
// single-tenant deployments avoid threading the shop ID everywhere.
// Token values themselves are never returned.
// GET /auth/token?shop_id=...
func (h *AuthHandler) GetToken(c *gin.Context) {
	token, err := h.tokens.GetValidToken(c.Request.Context(), c.Query("shop_id"))
	if err != nil {
		if errors.Is(err, core.ErrNoToken) || errors.Is(err, core.ErrTokenNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "No valid token")
			return
		}
		h.logger.Error("Failed to resolve token", "component", "api", "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve token")
		return
	}

	resp := gin.H{
		"shop_id":    token.SubjectID,
		"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
		"scopes":     token.Scopes(),
	}
	if token.RefreshExpiresAt != nil {
		resp["refresh_expires_at"] = token.RefreshExpiresAt.UTC().Format(time.RFC3339)
	}

	respondOK(c, resp)
}

// Revoke deletes a shop's token and deactivates the shop
// POST /auth/revoke?shop_id=...
func (h *AuthHandler) Revoke(c *gin.Context) {
	shopID := c.Query("shop_id")
	if shopID == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "shop_id is required")
		return
	}

	ctx := c.Request.Context()

	if err := h.storage.DeleteToken(ctx, core.ProviderShop, shopID); err != nil {
		h.logger.Error("Failed to delete token",
			"component", "api",
			"shop_id", shopID,
			"error", err,
		)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Revocation failed")
		return
	}

	if err := h.storage.SetShopActive(ctx, shopID, false); err != nil && !errors.Is(err, core.ErrShopNotFound) {
		h.logger.Error("Failed to deactivate shop",
			"component", "api",
			"shop_id", shopID,
			"error", err,
		)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Revocation failed")
		return
	}

	respondOK(c, gin.H{
		"message": "Authorization revoked",
		"shop_id": shopID,
	})
}
