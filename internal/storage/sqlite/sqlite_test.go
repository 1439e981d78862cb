package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbridge/internal/core"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func testToken(subjectID string, expiresIn time.Duration) *core.ProviderToken {
	refreshExpiry := time.Now().Add(30 * 24 * time.Hour)
	return &core.ProviderToken{
		Provider:         core.ProviderShop,
		SubjectID:        subjectID,
		AccessToken:      "at-" + subjectID,
		RefreshToken:     "rt-" + subjectID,
		Scope:            "product.read,order.read",
		ExpiresAt:        time.Now().Add(expiresIn),
		RefreshExpiresAt: &refreshExpiry,
	}
}

func TestTokenRoundTrip(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	original := testToken("shop-1", time.Hour)
	require.NoError(t, storage.UpsertToken(ctx, original))

	got, err := storage.GetToken(ctx, core.ProviderShop, "shop-1")
	require.NoError(t, err)

	assert.Equal(t, core.ProviderShop, got.Provider)
	assert.Equal(t, "shop-1", got.SubjectID)
	assert.Equal(t, "at-shop-1", got.AccessToken)
	assert.Equal(t, "rt-shop-1", got.RefreshToken)
	assert.Equal(t, "product.read,order.read", got.Scope)
	assert.WithinDuration(t, original.ExpiresAt, got.ExpiresAt, time.Second)
	require.NotNil(t, got.RefreshExpiresAt)
	assert.WithinDuration(t, *original.RefreshExpiresAt, *got.RefreshExpiresAt, time.Second)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetToken_NotFound(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.GetToken(context.Background(), core.ProviderShop, "missing")
	assert.ErrorIs(t, err, core.ErrTokenNotFound)
}

func TestUpsertToken_Overwrites(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertToken(ctx, testToken("shop-1", time.Hour)))

	updated := testToken("shop-1", 2*time.Hour)
	updated.AccessToken = "at-rotated"
	updated.RefreshToken = "rt-rotated"
	require.NoError(t, storage.UpsertToken(ctx, updated))

	got, err := storage.GetToken(ctx, core.ProviderShop, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, "at-rotated", got.AccessToken)
	assert.Equal(t, "rt-rotated", got.RefreshToken)

	// Still a single row per (provider, subject)
	tokens, err := storage.ListValidTokens(ctx, core.ProviderShop, time.Now())
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
}

func TestUpsertToken_NilRefreshExpiry(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	token := testToken("shop-1", time.Hour)
	token.RefreshExpiresAt = nil
	require.NoError(t, storage.UpsertToken(ctx, token))

	got, err := storage.GetToken(ctx, core.ProviderShop, "shop-1")
	require.NoError(t, err)
	assert.Nil(t, got.RefreshExpiresAt)
}

func TestListValidTokens(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertToken(ctx, testToken("shop-expired", -time.Hour)))
	require.NoError(t, storage.UpsertToken(ctx, testToken("shop-old", time.Hour)))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, storage.UpsertToken(ctx, testToken("shop-new", time.Hour)))

	tokens, err := storage.ListValidTokens(ctx, core.ProviderShop, time.Now())
	require.NoError(t, err)

	// Expired tokens excluded, most recently updated first
	require.Len(t, tokens, 2)
	assert.Equal(t, "shop-new", tokens[0].SubjectID)
	assert.Equal(t, "shop-old", tokens[1].SubjectID)
}

func TestDeleteToken(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertToken(ctx, testToken("shop-1", time.Hour)))
	require.NoError(t, storage.DeleteToken(ctx, core.ProviderShop, "shop-1"))

	_, err := storage.GetToken(ctx, core.ProviderShop, "shop-1")
	assert.ErrorIs(t, err, core.ErrTokenNotFound)
}

func TestDeleteExpiredTokens(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	// Fully dead: access and refresh both expired
	dead := testToken("shop-dead", -time.Hour)
	pastRefresh := time.Now().Add(-time.Minute)
	dead.RefreshExpiresAt = &pastRefresh
	require.NoError(t, storage.UpsertToken(ctx, dead))

	// Recoverable: access expired but refresh still valid
	recoverable := testToken("shop-recoverable", -time.Hour)
	require.NoError(t, storage.UpsertToken(ctx, recoverable))

	// Dead with no refresh token at all
	orphan := testToken("shop-orphan", -time.Hour)
	orphan.RefreshToken = ""
	orphan.RefreshExpiresAt = nil
	require.NoError(t, storage.UpsertToken(ctx, orphan))

	// Healthy
	require.NoError(t, storage.UpsertToken(ctx, testToken("shop-live", time.Hour)))

	count, err := storage.DeleteExpiredTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = storage.GetToken(ctx, core.ProviderShop, "shop-dead")
	assert.ErrorIs(t, err, core.ErrTokenNotFound)
	_, err = storage.GetToken(ctx, core.ProviderShop, "shop-orphan")
	assert.ErrorIs(t, err, core.ErrTokenNotFound)
	_, err = storage.GetToken(ctx, core.ProviderShop, "shop-recoverable")
	assert.NoError(t, err)
	_, err = storage.GetToken(ctx, core.ProviderShop, "shop-live")
	assert.NoError(t, err)
}

func TestShopRoundTrip(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	shop := &core.Shop{
		ShopID:     "shop-1",
		Name:       "Test Shop",
		Region:     "US",
		SellerType: "CROSS_BORDER",
		Cipher:     "cipher-1",
		Scopes:     []string{"product.read", "order.read"},
		IsActive:   true,
	}
	require.NoError(t, storage.UpsertShop(ctx, shop))

	got, err := storage.GetShop(ctx, "shop-1")
	require.NoError(t, err)

	assert.Equal(t, "Test Shop", got.Name)
	assert.Equal(t, "US", got.Region)
	assert.Equal(t, "cipher-1", got.Cipher)
	assert.Equal(t, []string{"product.read", "order.read"}, got.Scopes)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastSyncAt)
}

func TestGetShop_NotFound(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.GetShop(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrShopNotFound)
}

func TestListActiveShops(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertShop(ctx, &core.Shop{ShopID: "shop-a", Name: "A", IsActive: true}))
	require.NoError(t, storage.UpsertShop(ctx, &core.Shop{ShopID: "shop-b", Name: "B", IsActive: false}))

	shops, err := storage.ListActiveShops(ctx)
	require.NoError(t, err)

	require.Len(t, shops, 1)
	assert.Equal(t, "shop-a", shops[0].ShopID)
}

func TestSetShopActive(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertShop(ctx, &core.Shop{ShopID: "shop-1", Name: "S", IsActive: true}))
	require.NoError(t, storage.SetShopActive(ctx, "shop-1", false))

	got, err := storage.GetShop(ctx, "shop-1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, storage.SetShopActive(ctx, "missing", true), core.ErrShopNotFound)
}

func TestTouchShopSync(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertShop(ctx, &core.Shop{ShopID: "shop-1", Name: "S", IsActive: true}))

	at := time.Now()
	require.NoError(t, storage.TouchShopSync(ctx, "shop-1", at))

	got, err := storage.GetShop(ctx, "shop-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.WithinDuration(t, at, *got.LastSyncAt, time.Second)
}

func TestOAuthState_ConsumeOnce(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	state := &core.OAuthState{
		State:     "state-1",
		ShopID:    "shop-1",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, storage.CreateOAuthState(ctx, state))

	got, err := storage.ConsumeOAuthState(ctx, "state-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "shop-1", got.ShopID)

	// Second consume fails: the state is single-use
	_, err = storage.ConsumeOAuthState(ctx, "state-1", time.Now())
	assert.ErrorIs(t, err, core.ErrStateNotFound)
}

func TestOAuthState_Expired(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	state := &core.OAuthState{
		State:     "state-old",
		ShopID:    "shop-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, storage.CreateOAuthState(ctx, state))

	_, err := storage.ConsumeOAuthState(ctx, "state-old", time.Now())
	assert.ErrorIs(t, err, core.ErrStateNotFound)

	count, err := storage.DeleteExpiredOAuthStates(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProductRoundTrip(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	product := &core.Product{
		ID:       "prod-1",
		ShopID:   "shop-1",
		Title:    "Widget",
		Status:   "ACTIVATE",
		Price:    "9.99",
		Currency: "USD",
		SyncedAt: time.Now(),
	}
	require.NoError(t, storage.UpsertProduct(ctx, product))

	// Same product id under a different shop is a separate row
	other := *product
	other.ShopID = "shop-2"
	require.NoError(t, storage.UpsertProduct(ctx, &other))

	// Upsert overwrites in place
	product.Title = "Widget v2"
	product.Price = "12.99"
	require.NoError(t, storage.UpsertProduct(ctx, product))

	products, err := storage.ListProductsByShop(ctx, "shop-1")
	require.NoError(t, err)

	require.Len(t, products, 1)
	assert.Equal(t, "Widget v2", products[0].Title)
	assert.Equal(t, "12.99", products[0].Price)
	assert.Equal(t, "USD", products[0].Currency)
}
