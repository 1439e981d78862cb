package core

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ProviderShop is the provider tag for TikTok Shop tokens
const ProviderShop = "SHOP"

// Expiry trust windows and fallbacks applied to upstream token data.
// An expiry outside its window is treated as corrupt and replaced.
const (
	MaxAccessExpiry       = 365 * 24 * time.Hour
	MaxRefreshExpiry      = 10 * 365 * 24 * time.Hour
	AccessExpiryFallback  = 7 * 24 * time.Hour
	RefreshExpiryFallback = 30 * 24 * time.Hour
)

// ProviderToken is the stored OAuth credential for one (provider, subject) pair.
// Exactly one row exists per pair; updates overwrite in place.
type ProviderToken struct {
	ID               int64
	Provider         string
	SubjectID        string // shop ID for the SHOP provider
	AccessToken      string
	RefreshToken     string
	Scope            string // comma-separated granted scopes
	ExpiresAt        time.Time
	RefreshExpiresAt *time.Time // nil means the refresh token does not expire
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsAccessExpired reports whether the access token is past its expiry
func (t *ProviderToken) IsAccessExpired() bool {
	return t.ExpiresAt.Before(time.Now())
}

// IsRefreshExpired reports whether the refresh token is past its expiry
func (t *ProviderToken) IsRefreshExpired() bool {
	if t.RefreshExpiresAt == nil {
		return false
	}
	return t.RefreshExpiresAt.Before(time.Now())
}

// NeedsRefresh reports whether the access token should be proactively
// refreshed: true when now + ahead reaches the access expiry.
func (t *ProviderToken) NeedsRefresh(ahead time.Duration) bool {
	return !time.Now().Add(ahead).Before(t.ExpiresAt)
}

// Scopes splits the stored scope string into individual scopes
func (t *ProviderToken) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	parts := strings.Split(t.Scope, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// TokenData is the token payload returned by the provider's OAuth endpoint
// on a code exchange or refresh. Expiry fields are absolute epoch values,
// in seconds or milliseconds depending on the provider's mood.
type TokenData struct {
	AccessToken          string
	RefreshToken         string
	AccessTokenExpireIn  int64
	RefreshTokenExpireIn int64
	OpenID               string
	SellerName           string
	SellerBaseRegion     string
	UserType             int
	GrantedScopes        []string
}

// NormalizeExpiry converts an upstream expiry value to an absolute time.
// Values with 13 digits are Unix milliseconds and are reduced to seconds.
// A normalized expiry outside (now, now+max] is discarded in favor of
// now+fallback so corrupt upstream data cannot produce a token that never
// expires or is already expired.
func NormalizeExpiry(raw int64, now time.Time, max, fallback time.Duration) time.Time {
	if len(strconv.FormatInt(raw, 10)) == 13 {
		raw /= 1000
	}
	expiry := time.Unix(raw, 0)
	if !expiry.After(now) || expiry.After(now.Add(max)) {
		return now.Add(fallback)
	}
	return expiry
}

// Shop represents one TikTok shop authorized by a merchant
type Shop struct {
	ID         int64
	ShopID     string // external TikTok shop identifier, unique
	Name       string
	Region     string // e.g. "US", "VN"
	SellerType string
	Cipher     string // opaque per-shop token required by several API families
	Scopes     []string
	IsActive   bool
	LastSyncAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OAuthState is a short-lived token binding an authorization redirect to a shop
type OAuthState struct {
	State     string
	ShopID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Product is a synced snapshot of a TikTok Shop product
type Product struct {
	ID       string
	ShopID   string
	Title    string
	Status   string
	Price    string
	Currency string
	SyncedAt time.Time
}

// Domain errors
var (
	ErrNoToken                 = errors.New("no valid token for shop")
	ErrTokenNotFound           = errors.New("token not found")
	ErrShopNotFound            = errors.New("shop not found")
	ErrStateNotFound           = errors.New("oauth state not found or expired")
	ErrRefreshFailed           = errors.New("token refresh rejected by provider")
	ErrReauthorizationRequired = errors.New("refresh token expired, shop must be re-authorized")
)
