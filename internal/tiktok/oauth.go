package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"shopbridge/internal/core"
)

// Default provider hosts
const (
	DefaultAuthBase      = "https://auth.tiktok-shops.com"
	DefaultAuthorizeBase = "https://services.tiktokshop.com/open/authorize"
	DefaultAPIBase       = "https://open-api.tiktokglobalshop.com"
	DefaultAPIBaseUS     = "https://open-api.tiktokshopus.com"
)

const (
	tokenGetPath     = "/api/v2/token/get"
	tokenRefreshPath = "/api/v2/token/refresh"
)

// OAuthConfig contains OAuth token endpoint settings
type OAuthConfig struct {
	AppKey    string
	AppSecret string
	AuthBase  string
}

// OAuthClient talks to the TikTok Shop OAuth token endpoint. Token calls
// are plain GETs with the app credentials in the query; they are not
// signed.
type OAuthClient struct {
	config     OAuthConfig
	httpClient *http.Client
}

// NewOAuthClient creates a new OAuth token endpoint client
func NewOAuthClient(config OAuthConfig) *OAuthClient {
	if config.AuthBase == "" {
		config.AuthBase = DefaultAuthBase
	}
	return &OAuthClient{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ExchangeCode exchanges an authorization code for tokens
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*core.TokenData, error) {
	q := url.Values{}
	q.Set("app_key", c.config.AppKey)
	q.Set("app_secret", c.config.AppSecret)
	q.Set("auth_code", code)
	q.Set("grant_type", "authorized_code")

	return c.requestToken(ctx, tokenGetPath, q)
}

// Refresh exchanges a refresh token for a new token pair
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*core.TokenData, error) {
	q := url.Values{}
	q.Set("app_key", c.config.AppKey)
	q.Set("app_secret", c.config.AppSecret)
	q.Set("refresh_token", refreshToken)
	q.Set("grant_type", "refresh_token")

	return c.requestToken(ctx, tokenRefreshPath, q)
}

func (c *OAuthClient) requestToken(ctx context.Context, path string, q url.Values) (*core.TokenData, error) {
	reqURL := c.config.AuthBase + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, truncate(body, 2048))
	}

	payload, err := extractToken(body)
	if err != nil {
		return nil, err
	}

	return &core.TokenData{
		AccessToken:          payload.AccessToken,
		RefreshToken:         payload.RefreshToken,
		AccessTokenExpireIn:  payload.AccessTokenExpireIn,
		RefreshTokenExpireIn: payload.RefreshTokenExpireIn,
		OpenID:               payload.OpenID,
		SellerName:           payload.SellerName,
		SellerBaseRegion:     payload.SellerBaseRegion,
		UserType:             payload.UserType,
		GrantedScopes:        payload.GrantedScopes,
	}, nil
}

// tokenPayload mirrors the provider's token fields
type tokenPayload struct {
	AccessToken          string   `json:"access_token"`
	AccessTokenExpireIn  int64    `json:"access_token_expire_in"`
	RefreshToken         string   `json:"refresh_token"`
	RefreshTokenExpireIn int64    `json:"refresh_token_expire_in"`
	OpenID               string   `json:"open_id"`
	SellerName           string   `json:"seller_name"`
	SellerBaseRegion     string   `json:"seller_base_region"`
	UserType             int      `json:"user_type"`
	GrantedScopes        []string `json:"granted_scopes"`
}

// extractToken decodes a token envelope. The provider has been observed to
// nest the payload under "data", return it flat, or nest it under
// "result"; the shapes are tried in that order and the first one carrying
// an access_token wins.
func extractToken(body []byte) (*tokenPayload, error) {
	var outer struct {
		Data   json.RawMessage `json:"data"`
		Result json.RawMessage `json:"result"`
	}
	// Shape detection only; a top-level array or scalar just means the
	// candidates below stay empty.
	_ = json.Unmarshal(body, &outer)

	candidates := [][]byte{outer.Data, body, outer.Result}
	for _, candidate := range candidates {
		if len(candidate) == 0 {
			continue
		}
		var payload tokenPayload
		if err := json.Unmarshal(candidate, &payload); err != nil {
			continue
		}
		if payload.AccessToken != "" {
			return &payload, nil
		}
	}

	return nil, fmt.Errorf("no access token in token response: %s", truncate(body, 2048))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
