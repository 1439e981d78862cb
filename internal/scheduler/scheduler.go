package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"shopbridge/internal/core"
	"shopbridge/internal/tiktok"
)

const productSearchPath = "/product/202309/products/search"

// Storage interface for scheduler operations
type Storage interface {
	ListActiveShops(ctx context.Context) ([]*core.Shop, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error)
	UpsertProduct(ctx context.Context, product *core.Product) error
	TouchShopSync(ctx context.Context, shopID string, at time.Time) error
}

// TokenManager interface for proactive refresh
type TokenManager interface {
	EnsureValid(ctx context.Context, shopID string) (*core.ProviderToken, error)
}

// Executor interface for signed API calls
type Executor interface {
	Call(ctx context.Context, shopID, method, apiPath string, query tiktok.Values, body any) (json.RawMessage, error)
}

// Scheduler runs periodic maintenance: expired credential cleanup,
// proactive token refresh and product sync for every active shop.
type Scheduler struct {
	storage      Storage
	tokens       TokenManager
	executor     Executor
	interval     time.Duration
	syncProducts bool
	stopChan     chan struct{}
	logger       *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(storage Storage, tokens TokenManager, executor Executor, interval time.Duration, syncProducts bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		storage:      storage,
		tokens:       tokens,
		executor:     executor,
		interval:     interval,
		syncProducts: syncProducts,
		stopChan:     make(chan struct{}),
		logger:       logger,
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	s.logger.Info("Scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-s.stopChan:
			s.logger.Info("Scheduler stopped")
			return
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Tick performs one maintenance cycle
func (s *Scheduler) Tick() {
	ctx := context.Background()

	if count, err := s.storage.DeleteExpiredTokens(ctx, time.Now()); err != nil {
		s.logger.Error("Failed to clean up expired tokens", "error", err)
	} else if count > 0 {
		s.logger.Info("Cleaned up expired tokens", "count", count)
	}

	if count, err := s.storage.DeleteExpiredOAuthStates(ctx, time.Now()); err != nil {
		s.logger.Error("Failed to clean up expired oauth states", "error", err)
	} else if count > 0 {
		s.logger.Debug("Cleaned up expired oauth states", "count", count)
	}

	shops, err := s.storage.ListActiveShops(ctx)
	if err != nil {
		s.logger.Error("Failed to list active shops", "error", err)
		return
	}

	s.logger.Debug("Scheduler tick", "active_shops", len(shops))

	for _, shop := range shops {
		if _, err := s.tokens.EnsureValid(ctx, shop.ShopID); err != nil {
			// Reauthorization alerts are raised by the token manager;
			// here the failure just skips this shop's sync.
			if !errors.Is(err, core.ErrReauthorizationRequired) {
				s.logger.Error("Proactive token refresh failed",
					"shop_id", shop.ShopID,
					"error", err,
				)
			}
			continue
		}

		if s.syncProducts {
			s.syncShopProducts(ctx, shop)
		}
	}
}

// productPage mirrors the fields of the product search response this
// sync cares about
type productPage struct {
	Products []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Status string `json:"status"`
		Skus   []struct {
			Price struct {
				TaxExclusivePrice string `json:"tax_exclusive_price"`
				Currency          string `json:"currency"`
			} `json:"price"`
		} `json:"skus"`
	} `json:"products"`
	NextPageToken string `json:"next_page_token"`
}

// syncShopProducts pulls the shop's product catalog page by page and
// upserts local snapshots
func (s *Scheduler) syncShopProducts(ctx context.Context, shop *core.Shop) {
	now := time.Now()
	pageToken := ""
	total := 0

	for {
		query := tiktok.Values{
			"page_size": tiktok.Int(100),
		}
		if pageToken != "" {
			query["page_token"] = tiktok.String(pageToken)
		}

		data, err := s.executor.Call(ctx, shop.ShopID, http.MethodPost, productSearchPath, query, map[string]any{})
		if err != nil {
			s.logger.Error("Product sync request failed",
				"shop_id", shop.ShopID,
				"error", err,
			)
			return
		}

		var page productPage
		if err := json.Unmarshal(data, &page); err != nil {
			s.logger.Error("Failed to decode product search response",
				"shop_id", shop.ShopID,
				"error", err,
			)
			return
		}

		for _, p := range page.Products {
			product := &core.Product{
				ID:       p.ID,
				ShopID:   shop.ShopID,
				Title:    p.Title,
				Status:   p.Status,
				SyncedAt: now,
			}
			if len(p.Skus) > 0 {
				product.Price = p.Skus[0].Price.TaxExclusivePrice
				product.Currency = p.Skus[0].Price.Currency
			}
			if err := s.storage.UpsertProduct(ctx, product); err != nil {
				s.logger.Error("Failed to upsert product",
					"shop_id", shop.ShopID,
					"product_id", p.ID,
					"error", err,
				)
			}
		}
		total += len(page.Products)

		if page.NextPageToken == "" || len(page.Products) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}

	if err := s.storage.TouchShopSync(ctx, shop.ShopID, now); err != nil {
		s.logger.Error("Failed to record sync time",
			"shop_id", shop.ShopID,
			"error", err,
		)
	}

	s.logger.Info("Product sync completed",
		"shop_id", shop.ShopID,
		"products", total,
	)
}
