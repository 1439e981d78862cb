package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shopbridge/internal/core"
)

const shopsPath = "/authorization/202309/shops"

// TokenProvider yields usable access tokens for shops
type TokenProvider interface {
	EnsureValid(ctx context.Context, shopID string) (*core.ProviderToken, error)
	ForceRefresh(ctx context.Context, shopID string) (*core.ProviderToken, error)
}

// ShopStore resolves shop records for cipher and host selection
type ShopStore interface {
	GetShop(ctx context.Context, shopID string) (*core.Shop, error)
}

// ExecutorConfig contains signed API call settings
type ExecutorConfig struct {
	AppKey    string
	AppSecret string
	APIBase   string // global host
	APIBaseUS string // US sellers are served from a separate host
}

// Executor composes the token lifecycle and the canonical signer into
// authenticated calls against the TikTok Shop Open API.
type Executor struct {
	config     ExecutorConfig
	tokens     TokenProvider
	shops      ShopStore
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExecutor creates a new API request executor
func NewExecutor(config ExecutorConfig, tokens TokenProvider, shops ShopStore, logger *slog.Logger) *Executor {
	if config.APIBase == "" {
		config.APIBase = DefaultAPIBase
	}
	if config.APIBaseUS == "" {
		config.APIBaseUS = DefaultAPIBaseUS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		config: config,
		tokens: tokens,
		shops:  shops,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// hostFor selects the API host for a shop's region
func (e *Executor) hostFor(shop *core.Shop) string {
	if strings.EqualFold(shop.Region, "US") {
		return e.config.APIBaseUS
	}
	return e.config.APIBase
}

// Call issues one signed request to the given API path and returns the
// envelope's data payload. The request body, when present, is marshaled
// once and the same bytes are signed and transmitted. A response whose
// business code reports a stale access token triggers a forced refresh
// and exactly one retry; any second failure is returned as-is.
func (e *Executor) Call(ctx context.Context, shopID, method, apiPath string, query Values, body any) (json.RawMessage, error) {
	token, err := e.tokens.EnsureValid(ctx, shopID)
	if err != nil {
		if isAuthFailure(err) {
			return nil, fmt.Errorf("shop %s: %w: %v", shopID, ErrAuthRequired, err)
		}
		return nil, fmt.Errorf("shop %s: failed to resolve token: %w", shopID, err)
	}

	shop, err := e.shops.GetShop(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("shop %s: %w", shopID, err)
	}

	var rawBody []byte
	if body != nil {
		rawBody, err = MarshalBody(body)
		if err != nil {
			return nil, fmt.Errorf("shop %s: %w", shopID, err)
		}
	}

	merged := make(Values, len(query)+2)
	for key, value := range query {
		merged[key] = value
	}
	merged["app_key"] = String(e.config.AppKey)
	if shop.Cipher != "" {
		merged["shop_cipher"] = String(shop.Cipher)
	}

	data, err := e.do(ctx, e.hostFor(shop), shopID, method, apiPath, merged, rawBody, token.AccessToken)
	if err == nil {
		return data, nil
	}

	var bizErr *BusinessError
	if !errors.As(err, &bizErr) || !bizErr.IsStaleToken() {
		return nil, err
	}

	e.logger.Warn("Access token rejected by provider, refreshing and retrying once",
		"component", "executor",
		"shop_id", shopID,
		"path", apiPath,
		"code", bizErr.Code,
	)

	token, refreshErr := e.tokens.ForceRefresh(ctx, shopID)
	if refreshErr != nil {
		if isAuthFailure(refreshErr) {
			return nil, fmt.Errorf("shop %s: %w: %v", shopID, ErrAuthRequired, refreshErr)
		}
		return nil, fmt.Errorf("shop %s: refresh after stale token failed: %w", shopID, refreshErr)
	}

	return e.do(ctx, e.hostFor(shop), shopID, method, apiPath, merged, rawBody, token.AccessToken)
}

// do signs and executes a single request, without retry logic
func (e *Executor) do(ctx context.Context, host, shopID, method, apiPath string, query Values, rawBody []byte, accessToken string) (json.RawMessage, error) {
	signed, err := Sign(query, apiPath, rawBody, "application/json", e.config.AppSecret)
	if err != nil {
		return nil, fmt.Errorf("shop %s: failed to sign request for %s: %w", shopID, apiPath, err)
	}

	reqURL := host + apiPath + "?" + signed.Query.Encode()

	var reqBody io.Reader
	if len(rawBody) > 0 {
		reqBody = bytes.NewReader(rawBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("shop %s: failed to create request: %w", shopID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-tts-access-token", accessToken)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shop %s: request to %s failed: %w", shopID, apiPath, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("shop %s: failed to read response from %s: %w", shopID, apiPath, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			ShopID: shopID,
			Path:   apiPath,
			Status: resp.StatusCode,
			Body:   truncate(respBody, 2048),
		}
	}

	var envelope struct {
		Code      *int            `json:"code"`
		Message   string          `json:"message"`
		RequestID string          `json:"request_id"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("shop %s: failed to decode response from %s: %w", shopID, apiPath, err)
	}

	if envelope.Code == nil || *envelope.Code != 0 {
		bizErr := &BusinessError{
			ShopID:    shopID,
			Path:      apiPath,
			Message:   envelope.Message,
			RequestID: envelope.RequestID,
		}
		if envelope.Code != nil {
			bizErr.Code = *envelope.Code
		} else {
			bizErr.Message = "response envelope has no code field"
		}
		return nil, bizErr
	}

	return envelope.Data, nil
}

// AuthorizedShop is one entry from the authorized-shops endpoint
type AuthorizedShop struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Region     string `json:"region"`
	SellerType string `json:"seller_type"`
	Cipher     string `json:"cipher"`
	Code       string `json:"code"`
}

// GetAuthorizedShops fetches the shops the given access token is
// authorized for. Used during the OAuth callback, before any shop record
// exists, so it takes the token directly and always uses the global host.
func (e *Executor) GetAuthorizedShops(ctx context.Context, accessToken string) ([]AuthorizedShop, error) {
	query := Values{"app_key": String(e.config.AppKey)}

	data, err := e.do(ctx, e.config.APIBase, "", http.MethodGet, shopsPath, query, nil, accessToken)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Shops []AuthorizedShop `json:"shops"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode authorized shops: %w", err)
	}

	return payload.Shops, nil
}

// isAuthFailure reports whether a token lifecycle error means the shop has
// no usable credentials and must re-authorize.
func isAuthFailure(err error) bool {
	return errors.Is(err, core.ErrNoToken) ||
		errors.Is(err, core.ErrTokenNotFound) ||
		errors.Is(err, core.ErrReauthorizationRequired) ||
		errors.Is(err, core.ErrRefreshFailed)
}
