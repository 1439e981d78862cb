package cache

import "context"

// ShopInfoCache caches normalized shop info between admin requests so
// every page load does not cost a signed upstream call.
type ShopInfoCache interface {
	Get(ctx context.Context, shopID string) (map[string]any, bool)
	Set(ctx context.Context, shopID string, info map[string]any)
}

// Noop is the cache used when no backend is configured
type Noop struct{}

func (Noop) Get(ctx context.Context, shopID string) (map[string]any, bool) { return nil, false }

func (Noop) Set(ctx context.Context, shopID string, info map[string]any) {}
