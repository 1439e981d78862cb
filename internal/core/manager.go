package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// TokenStore is the persistence boundary the manager depends on
type TokenStore interface {
	GetToken(ctx context.Context, provider, subjectID string) (*ProviderToken, error)
	UpsertToken(ctx context.Context, token *ProviderToken) error
	ListValidTokens(ctx context.Context, provider string, now time.Time) ([]*ProviderToken, error)
}

// OAuthClient performs the remote token grant calls
type OAuthClient interface {
	ExchangeCode(ctx context.Context, code string) (*TokenData, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenData, error)
}

// Notifier receives alerts when a shop enters a state that requires
// merchant action. Implementations must not block.
type Notifier interface {
	NotifyReauthorizationRequired(shopID, reason string)
}

// TokenManager owns the token lifecycle for all shops: lookup, validity
// decisions, proactive refresh and persistence of refreshed credentials.
type TokenManager struct {
	store        TokenStore
	oauth        OAuthClient
	notifier     Notifier // optional
	refreshAhead time.Duration
	logger       *slog.Logger

	// Per-(provider,shop) locks so concurrent callers cannot race a
	// refresh against a provider that rotates refresh tokens.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTokenManager creates a new token lifecycle manager
func NewTokenManager(store TokenStore, oauth OAuthClient, notifier Notifier, refreshAhead time.Duration, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	if refreshAhead <= 0 {
		refreshAhead = 600 * time.Second
	}
	return &TokenManager{
		store:        store,
		oauth:        oauth,
		notifier:     notifier,
		refreshAhead: refreshAhead,
		logger:       logger,
	}
}

func (m *TokenManager) lockFor(provider, subjectID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*sync.Mutex)
	}
	key := provider + ":" + subjectID
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// GetValidToken returns the token for the given shop. When shopID is empty
// the shop is inferred from the set of non-expired tokens: a single token
// is used directly; with several, the most recently updated wins and the
// ambiguity is logged.
func (m *TokenManager) GetValidToken(ctx context.Context, shopID string) (*ProviderToken, error) {
	if shopID != "" {
		token, err := m.store.GetToken(ctx, ProviderShop, shopID)
		if err != nil {
			return nil, err
		}
		return token, nil
	}

	tokens, err := m.store.ListValidTokens(ctx, ProviderShop, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list valid tokens: %w", err)
	}

	switch len(tokens) {
	case 0:
		return nil, ErrNoToken
	case 1:
		return tokens[0], nil
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].UpdatedAt.After(tokens[j].UpdatedAt)
	})

	shopIDs := make([]string, len(tokens))
	for i, t := range tokens {
		shopIDs[i] = t.SubjectID
	}
	m.logger.Warn("Multiple shops have valid tokens, using most recently authorized",
		"component", "token_manager",
		"shop_count", len(tokens),
		"shops", shopIDs,
		"selected", tokens[0].SubjectID,
	)

	return tokens[0], nil
}

// EnsureValid returns a usable token for the shop, refreshing it first when
// it is inside the refresh-ahead window. A dead refresh token is terminal:
// the caller must push the merchant back through authorization.
func (m *TokenManager) EnsureValid(ctx context.Context, shopID string) (*ProviderToken, error) {
	token, err := m.store.GetToken(ctx, ProviderShop, shopID)
	if err != nil {
		return nil, err
	}

	if !token.NeedsRefresh(m.refreshAhead) {
		return token, nil
	}

	return m.refreshLocked(ctx, shopID, false)
}

// ForceRefresh refreshes the shop's token regardless of its local expiry.
// Used by the executor when the provider reports a stale access token that
// local clocks still consider valid.
func (m *TokenManager) ForceRefresh(ctx context.Context, shopID string) (*ProviderToken, error) {
	return m.refreshLocked(ctx, shopID, true)
}

// refreshLocked performs the refresh under the per-shop lock. Unless force
// is set, the token is re-checked after acquiring the lock so that callers
// queued behind a completed refresh reuse its result.
func (m *TokenManager) refreshLocked(ctx context.Context, shopID string, force bool) (*ProviderToken, error) {
	lock := m.lockFor(ProviderShop, shopID)
	lock.Lock()
	defer lock.Unlock()

	token, err := m.store.GetToken(ctx, ProviderShop, shopID)
	if err != nil {
		return nil, err
	}

	if !force && !token.NeedsRefresh(m.refreshAhead) {
		return token, nil
	}

	if token.RefreshToken == "" || token.IsRefreshExpired() {
		m.logger.Warn("Refresh token unusable, shop must re-authorize",
			"component", "token_manager",
			"shop_id", shopID,
			"has_refresh_token", token.RefreshToken != "",
		)
		if m.notifier != nil {
			m.notifier.NotifyReauthorizationRequired(shopID, "refresh token expired")
		}
		return nil, ErrReauthorizationRequired
	}

	data, err := m.oauth.Refresh(ctx, token.RefreshToken)
	if err != nil {
		m.logger.Error("Token refresh failed",
			"component", "token_manager",
			"shop_id", shopID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	updated, err := m.SaveToken(ctx, shopID, data)
	if err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	m.logger.Info("Token refreshed",
		"component", "token_manager",
		"shop_id", shopID,
		"expires_at", updated.ExpiresAt,
	)

	return updated, nil
}

// ExchangeCode performs the one-shot OAuth code exchange
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (*TokenData, error) {
	return m.oauth.ExchangeCode(ctx, code)
}

// SaveToken normalizes upstream expiry data and upserts the shop's token.
// The provider reports absolute expiries that are sometimes milliseconds
// and occasionally garbage; NormalizeExpiry clamps both cases.
func (m *TokenManager) SaveToken(ctx context.Context, shopID string, data *TokenData) (*ProviderToken, error) {
	if data == nil || data.AccessToken == "" {
		return nil, fmt.Errorf("token data has no access token")
	}

	now := time.Now()
	token := &ProviderToken{
		Provider:     ProviderShop,
		SubjectID:    shopID,
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		Scope:        strings.Join(data.GrantedScopes, ","),
		ExpiresAt:    NormalizeExpiry(data.AccessTokenExpireIn, now, MaxAccessExpiry, AccessExpiryFallback),
	}
	if data.RefreshTokenExpireIn != 0 {
		refreshExpiry := NormalizeExpiry(data.RefreshTokenExpireIn, now, MaxRefreshExpiry, RefreshExpiryFallback)
		token.RefreshExpiresAt = &refreshExpiry
	}

	if err := m.store.UpsertToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to upsert token for shop %s: %w", shopID, err)
	}

	return token, nil
}
