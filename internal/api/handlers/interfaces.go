package handlers

import (
	"context"
	"encoding/json"

	"shopbridge/internal/core"
	"shopbridge/internal/tiktok"
)

// Executor issues signed TikTok Open API calls
type Executor interface {
	Call(ctx context.Context, shopID, method, apiPath string, query tiktok.Values, body any) (json.RawMessage, error)
	GetAuthorizedShops(ctx context.Context, accessToken string) ([]tiktok.AuthorizedShop, error)
}

// TokenManager drives the token lifecycle for handler operations
type TokenManager interface {
	GetValidToken(ctx context.Context, shopID string) (*core.ProviderToken, error)
	EnsureValid(ctx context.Context, shopID string) (*core.ProviderToken, error)
	ExchangeCode(ctx context.Context, code string) (*core.TokenData, error)
	SaveToken(ctx context.Context, shopID string, data *core.TokenData) (*core.ProviderToken, error)
}
