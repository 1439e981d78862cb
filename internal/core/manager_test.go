package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	tokens  map[string]*ProviderToken
	upserts int
}

func newFakeStore(tokens ...*ProviderToken) *fakeStore {
	s := &fakeStore{tokens: make(map[string]*ProviderToken)}
	for _, token := range tokens {
		s.tokens[token.Provider+":"+token.SubjectID] = token
	}
	return s
}

func (s *fakeStore) GetToken(ctx context.Context, provider, subjectID string) (*ProviderToken, error) {
	token, ok := s.tokens[provider+":"+subjectID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return token, nil
}

func (s *fakeStore) UpsertToken(ctx context.Context, token *ProviderToken) error {
	s.upserts++
	token.UpdatedAt = time.Now()
	s.tokens[token.Provider+":"+token.SubjectID] = token
	return nil
}

func (s *fakeStore) ListValidTokens(ctx context.Context, provider string, now time.Time) ([]*ProviderToken, error) {
	var out []*ProviderToken
	for _, token := range s.tokens {
		if token.Provider == provider && token.ExpiresAt.After(now) {
			out = append(out, token)
		}
	}
	return out, nil
}

type fakeOAuth struct {
	data         *TokenData
	err          error
	refreshCalls int
	lastRefresh  string
}

func (o *fakeOAuth) ExchangeCode(ctx context.Context, code string) (*TokenData, error) {
	return o.data, o.err
}

func (o *fakeOAuth) Refresh(ctx context.Context, refreshToken string) (*TokenData, error) {
	o.refreshCalls++
	o.lastRefresh = refreshToken
	if o.err != nil {
		return nil, o.err
	}
	return o.data, nil
}

type fakeNotifier struct {
	alerts []string
}

func (n *fakeNotifier) NotifyReauthorizationRequired(shopID, reason string) {
	n.alerts = append(n.alerts, shopID)
}

func freshTokenData() *TokenData {
	return &TokenData{
		AccessToken:          "at-new",
		RefreshToken:         "rt-new",
		AccessTokenExpireIn:  time.Now().Add(24 * time.Hour).Unix(),
		RefreshTokenExpireIn: time.Now().Add(30 * 24 * time.Hour).Unix(),
		GrantedScopes:        []string{"product.read"},
	}
}

func shopToken(shopID string, expiresIn time.Duration) *ProviderToken {
	future := time.Now().Add(365 * 24 * time.Hour)
	return &ProviderToken{
		Provider:         ProviderShop,
		SubjectID:        shopID,
		AccessToken:      "at-" + shopID,
		RefreshToken:     "rt-" + shopID,
		ExpiresAt:        time.Now().Add(expiresIn),
		RefreshExpiresAt: &future,
		UpdatedAt:        time.Now(),
	}
}

func TestTokenManager_GetValidToken_Explicit(t *testing.T) {
	store := newFakeStore(shopToken("shop-1", time.Hour))
	manager := NewTokenManager(store, &fakeOAuth{}, nil, 600*time.Second, nil)

	token, err := manager.GetValidToken(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, "shop-1", token.SubjectID)

	_, err = manager.GetValidToken(context.Background(), "shop-missing")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenManager_GetValidToken_Inference(t *testing.T) {
	t.Run("no tokens", func(t *testing.T) {
		manager := NewTokenManager(newFakeStore(), &fakeOAuth{}, nil, 600*time.Second, nil)

		_, err := manager.GetValidToken(context.Background(), "")
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("single token", func(t *testing.T) {
		store := newFakeStore(shopToken("shop-1", time.Hour))
		manager := NewTokenManager(store, &fakeOAuth{}, nil, 600*time.Second, nil)

		token, err := manager.GetValidToken(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "shop-1", token.SubjectID)
	})

	t.Run("multiple tokens pick most recently updated", func(t *testing.T) {
		older := shopToken("shop-old", time.Hour)
		older.UpdatedAt = time.Now().Add(-time.Hour)
		newer := shopToken("shop-new", time.Hour)

		store := newFakeStore(older, newer)
		manager := NewTokenManager(store, &fakeOAuth{}, nil, 600*time.Second, nil)

		token, err := manager.GetValidToken(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "shop-new", token.SubjectID)
	})

	t.Run("expired tokens excluded", func(t *testing.T) {
		store := newFakeStore(shopToken("shop-dead", -time.Hour))
		manager := NewTokenManager(store, &fakeOAuth{}, nil, 600*time.Second, nil)

		_, err := manager.GetValidToken(context.Background(), "")
		assert.ErrorIs(t, err, ErrNoToken)
	})
}

func TestTokenManager_EnsureValid_FreshTokenNoRefresh(t *testing.T) {
	store := newFakeStore(shopToken("shop-1", time.Hour))
	oauth := &fakeOAuth{data: freshTokenData()}
	manager := NewTokenManager(store, oauth, nil, 600*time.Second, nil)

	token, err := manager.EnsureValid(context.Background(), "shop-1")
	require.NoError(t, err)

	assert.Equal(t, "at-shop-1", token.AccessToken)
	assert.Equal(t, 0, oauth.refreshCalls)
}

func TestTokenManager_EnsureValid_RefreshesInsideWindow(t *testing.T) {
	store := newFakeStore(shopToken("shop-1", 300*time.Second))
	oauth := &fakeOAuth{data: freshTokenData()}
	manager := NewTokenManager(store, oauth, nil, 600*time.Second, nil)

	token, err := manager.EnsureValid(context.Background(), "shop-1")
	require.NoError(t, err)

	assert.Equal(t, "at-new", token.AccessToken)
	assert.Equal(t, "rt-new", token.RefreshToken)
	assert.Equal(t, 1, oauth.refreshCalls)
	assert.Equal(t, "rt-shop-1", oauth.lastRefresh)
	assert.Equal(t, 1, store.upserts)

	// The refreshed token is persisted
	stored, err := store.GetToken(context.Background(), ProviderShop, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, "at-new", stored.AccessToken)
}

func TestTokenManager_EnsureValid_DeadRefreshToken(t *testing.T) {
	token := shopToken("shop-1", 300*time.Second)
	past := time.Now().Add(-time.Hour)
	token.RefreshExpiresAt = &past

	store := newFakeStore(token)
	oauth := &fakeOAuth{data: freshTokenData()}
	notifier := &fakeNotifier{}
	manager := NewTokenManager(store, oauth, notifier, 600*time.Second, nil)

	_, err := manager.EnsureValid(context.Background(), "shop-1")
	assert.ErrorIs(t, err, ErrReauthorizationRequired)

	// No network call was attempted and the merchant was alerted
	assert.Equal(t, 0, oauth.refreshCalls)
	assert.Equal(t, []string{"shop-1"}, notifier.alerts)
}

func TestTokenManager_EnsureValid_MissingRefreshToken(t *testing.T) {
	token := shopToken("shop-1", 300*time.Second)
	token.RefreshToken = ""

	store := newFakeStore(token)
	oauth := &fakeOAuth{data: freshTokenData()}
	manager := NewTokenManager(store, oauth, nil, 600*time.Second, nil)

	_, err := manager.EnsureValid(context.Background(), "shop-1")
	assert.ErrorIs(t, err, ErrReauthorizationRequired)
	assert.Equal(t, 0, oauth.refreshCalls)
}

func TestTokenManager_EnsureValid_RefreshFailure(t *testing.T) {
	store := newFakeStore(shopToken("shop-1", 300*time.Second))
	oauth := &fakeOAuth{err: errors.New("provider down")}
	manager := NewTokenManager(store, oauth, nil, 600*time.Second, nil)

	_, err := manager.EnsureValid(context.Background(), "shop-1")
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestTokenManager_ForceRefresh(t *testing.T) {
	// The token is nowhere near expiry but the provider rejected it
	store := newFakeStore(shopToken("shop-1", time.Hour))
	oauth := &fakeOAuth{data: freshTokenData()}
	manager := NewTokenManager(store, oauth, nil, 600*time.Second, nil)

	token, err := manager.ForceRefresh(context.Background(), "shop-1")
	require.NoError(t, err)

	assert.Equal(t, "at-new", token.AccessToken)
	assert.Equal(t, 1, oauth.refreshCalls)
}

func TestTokenManager_SaveToken(t *testing.T) {
	store := newFakeStore()
	manager := NewTokenManager(store, &fakeOAuth{}, nil, 600*time.Second, nil)

	data := freshTokenData()
	token, err := manager.SaveToken(context.Background(), "shop-1", data)
	require.NoError(t, err)

	assert.Equal(t, ProviderShop, token.Provider)
	assert.Equal(t, "shop-1", token.SubjectID)
	assert.Equal(t, "product.read", token.Scope)
	require.NotNil(t, token.RefreshExpiresAt)
	assert.Equal(t, 1, store.upserts)
}

func TestTokenManager_SaveToken_NoRefreshExpiry(t *testing.T) {
	store := newFakeStore()
	manager := NewTokenManager(store, &fakeOAuth{}, nil, 600*time.Second, nil)

	data := freshTokenData()
	data.RefreshTokenExpireIn = 0

	token, err := manager.SaveToken(context.Background(), "shop-1", data)
	require.NoError(t, err)
	assert.Nil(t, token.RefreshExpiresAt)
	assert.False(t, token.IsRefreshExpired())
}

func TestTokenManager_SaveToken_NoAccessToken(t *testing.T) {
	manager := NewTokenManager(newFakeStore(), &fakeOAuth{}, nil, 600*time.Second, nil)

	_, err := manager.SaveToken(context.Background(), "shop-1", &TokenData{})
	assert.Error(t, err)
}
