package storage

import (
	"context"
	"time"

	"shopbridge/internal/core"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Provider tokens
	GetToken(ctx context.Context, provider, subjectID string) (*core.ProviderToken, error)
	UpsertToken(ctx context.Context, token *core.ProviderToken) error
	ListValidTokens(ctx context.Context, provider string, now time.Time) ([]*core.ProviderToken, error)
	DeleteToken(ctx context.Context, provider, subjectID string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	// Shops
	GetShop(ctx context.Context, shopID string) (*core.Shop, error)
	ListActiveShops(ctx context.Context) ([]*core.Shop, error)
	UpsertShop(ctx context.Context, shop *core.Shop) error
	SetShopActive(ctx context.Context, shopID string, active bool) error
	TouchShopSync(ctx context.Context, shopID string, at time.Time) error

	// OAuth states
	CreateOAuthState(ctx context.Context, state *core.OAuthState) error
	ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*core.OAuthState, error)
	DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error)

	// Products
	UpsertProduct(ctx context.Context, product *core.Product) error
	ListProductsByShop(ctx context.Context, shopID string) ([]*core.Product, error)

	// Lifecycle
	Close() error
}
