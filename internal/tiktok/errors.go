package tiktok

import (
	"errors"
	"fmt"
)

// ErrAuthRequired means no usable token exists for the shop; the merchant
// must go through authorization again.
var ErrAuthRequired = errors.New("no usable token for shop, re-authorization required")

// Business codes the provider returns for an unusable access token.
// These are the only failures the executor retries, and only once.
const (
	codeAccessTokenInvalid = 105
	codeAccessTokenExpired = 36009001
	codeAccessTokenRevoked = 36009002
)

// BusinessError is a non-zero code inside a 2xx response envelope
type BusinessError struct {
	ShopID    string
	Path      string
	Code      int
	Message   string
	RequestID string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("tiktok api error: shop=%s path=%s code=%d message=%q request_id=%s",
		e.ShopID, e.Path, e.Code, e.Message, e.RequestID)
}

// IsStaleToken reports whether the business code means the access token
// the request carried is no longer usable.
func (e *BusinessError) IsStaleToken() bool {
	switch e.Code {
	case codeAccessTokenInvalid, codeAccessTokenExpired, codeAccessTokenRevoked:
		return true
	}
	return false
}

// TransportError is a non-2xx HTTP response from the provider
type TransportError struct {
	ShopID string
	Path   string
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("tiktok transport error: shop=%s path=%s status=%d body=%s",
		e.ShopID, e.Path, e.Status, e.Body)
}
