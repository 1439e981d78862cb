package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbridge/internal/core"
	"shopbridge/internal/tiktok"
)

type fakeStorage struct {
	shops       []*core.Shop
	tokenSweeps int
	stateSweeps int
	products    map[string]*core.Product
	syncedShops []string
}

func newFakeStorage(shops ...*core.Shop) *fakeStorage {
	return &fakeStorage{
		shops:    shops,
		products: make(map[string]*core.Product),
	}
}

func (s *fakeStorage) ListActiveShops(ctx context.Context) ([]*core.Shop, error) {
	return s.shops, nil
}

func (s *fakeStorage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	s.tokenSweeps++
	return 0, nil
}

func (s *fakeStorage) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	s.stateSweeps++
	return 0, nil
}

func (s *fakeStorage) UpsertProduct(ctx context.Context, product *core.Product) error {
	s.products[product.ShopID+":"+product.ID] = product
	return nil
}

func (s *fakeStorage) TouchShopSync(ctx context.Context, shopID string, at time.Time) error {
	s.syncedShops = append(s.syncedShops, shopID)
	return nil
}

type fakeTokens struct {
	errs  map[string]error
	calls []string
}

func (f *fakeTokens) EnsureValid(ctx context.Context, shopID string) (*core.ProviderToken, error) {
	f.calls = append(f.calls, shopID)
	if err := f.errs[shopID]; err != nil {
		return nil, err
	}
	return &core.ProviderToken{SubjectID: shopID, AccessToken: "at-" + shopID}, nil
}

type fakeExecutor struct {
	pages map[string][]json.RawMessage
	calls int
}

func (f *fakeExecutor) Call(ctx context.Context, shopID, method, apiPath string, query tiktok.Values, body any) (json.RawMessage, error) {
	f.calls++
	pages := f.pages[shopID]
	if len(pages) == 0 {
		return json.RawMessage(`{"products":[]}`), nil
	}
	page := pages[0]
	f.pages[shopID] = pages[1:]
	return page, nil
}

func TestScheduler_Tick_SweepsAndRefreshes(t *testing.T) {
	storage := newFakeStorage(
		&core.Shop{ShopID: "shop-1", IsActive: true},
		&core.Shop{ShopID: "shop-2", IsActive: true},
	)
	tokens := &fakeTokens{}
	executor := &fakeExecutor{}

	sched := NewScheduler(storage, tokens, executor, time.Minute, false, nil)
	sched.Tick()

	assert.Equal(t, 1, storage.tokenSweeps)
	assert.Equal(t, 1, storage.stateSweeps)
	assert.Equal(t, []string{"shop-1", "shop-2"}, tokens.calls)
	// Product sync disabled: no API calls
	assert.Equal(t, 0, executor.calls)
}

func TestScheduler_Tick_SkipsShopNeedingReauthorization(t *testing.T) {
	storage := newFakeStorage(
		&core.Shop{ShopID: "shop-dead", IsActive: true},
		&core.Shop{ShopID: "shop-live", IsActive: true},
	)
	tokens := &fakeTokens{errs: map[string]error{
		"shop-dead": core.ErrReauthorizationRequired,
	}}
	executor := &fakeExecutor{pages: map[string][]json.RawMessage{
		"shop-live": {json.RawMessage(`{"products":[]}`)},
	}}

	sched := NewScheduler(storage, tokens, executor, time.Minute, true, nil)
	sched.Tick()

	// Only the healthy shop was synced
	assert.Equal(t, []string{"shop-live"}, storage.syncedShops)
}

func TestScheduler_Tick_SyncsProductsAcrossPages(t *testing.T) {
	storage := newFakeStorage(&core.Shop{ShopID: "shop-1", IsActive: true})
	tokens := &fakeTokens{}
	executor := &fakeExecutor{pages: map[string][]json.RawMessage{
		"shop-1": {
			json.RawMessage(`{
				"products": [
					{"id": "p1", "title": "Widget", "status": "ACTIVATE",
					 "skus": [{"price": {"tax_exclusive_price": "9.99", "currency": "USD"}}]}
				],
				"next_page_token": "page-2"
			}`),
			json.RawMessage(`{
				"products": [
					{"id": "p2", "title": "Gadget", "status": "ACTIVATE", "skus": []}
				]
			}`),
		},
	}}

	sched := NewScheduler(storage, tokens, executor, time.Minute, true, nil)
	sched.Tick()

	assert.Equal(t, 2, executor.calls)
	require.Len(t, storage.products, 2)

	p1 := storage.products["shop-1:p1"]
	require.NotNil(t, p1)
	assert.Equal(t, "Widget", p1.Title)
	assert.Equal(t, "9.99", p1.Price)
	assert.Equal(t, "USD", p1.Currency)

	p2 := storage.products["shop-1:p2"]
	require.NotNil(t, p2)
	assert.Empty(t, p2.Price)

	assert.Equal(t, []string{"shop-1"}, storage.syncedShops)
}

func TestScheduler_Tick_SyncAbortsOnCallError(t *testing.T) {
	storage := newFakeStorage(&core.Shop{ShopID: "shop-1", IsActive: true})
	tokens := &fakeTokens{}
	executor := &erroringExecutor{}

	sched := NewScheduler(storage, tokens, executor, time.Minute, true, nil)
	sched.Tick()

	assert.Empty(t, storage.products)
	assert.Empty(t, storage.syncedShops)
}

type erroringExecutor struct{}

func (erroringExecutor) Call(ctx context.Context, shopID, method, apiPath string, query tiktok.Values, body any) (json.RawMessage, error) {
	return nil, errors.New("upstream down")
}

func TestScheduler_StartStop(t *testing.T) {
	storage := newFakeStorage()
	sched := NewScheduler(storage, &fakeTokens{}, &fakeExecutor{}, 10*time.Millisecond, false, nil)

	done := make(chan struct{})
	go func() {
		sched.Start()
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	sched.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.GreaterOrEqual(t, storage.tokenSweeps, 1)
}
