package tiktok

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Value is a query parameter value the signer knows how to canonicalize.
// The implementation set is closed so every value has exactly one wire
// representation; inconsistent stringification breaks the signature
// silently on the provider side.
type Value interface {
	canonical() (string, error)
}

// String is a plain string parameter
type String string

// Int is an integer parameter
type Int int64

// Bool is serialized as "true" or "false"
type Bool bool

// List is serialized as a comma-joined string of its elements
type List []string

// JSON is a pre-marshaled compact JSON value, signed byte-for-byte.
// Use Object to build one from a Go value.
type JSON json.RawMessage

func (v String) canonical() (string, error) { return string(v), nil }

func (v Int) canonical() (string, error) { return strconv.FormatInt(int64(v), 10), nil }

func (v Bool) canonical() (string, error) {
	if v {
		return "true", nil
	}
	return "false", nil
}

func (v List) canonical() (string, error) { return strings.Join(v, ","), nil }

func (v JSON) canonical() (string, error) {
	if !json.Valid(v) {
		return "", fmt.Errorf("invalid JSON value: %s", string(v))
	}
	return string(v), nil
}

// Object marshals a Go value into a JSON parameter using the wire encoding
// the signer expects: compact, HTML left unescaped.
func Object(v any) (JSON, error) {
	data, err := MarshalBody(v)
	if err != nil {
		return nil, err
	}
	return JSON(data), nil
}

// Values is the query parameter set passed to the signer
type Values map[string]Value

// SignedRequest is the transient output of Sign: the signature, the
// timestamp that was signed, and the final query to put on the wire.
type SignedRequest struct {
	Signature string
	Timestamp int64
	Query     url.Values
}

// Keys never included in the signed material
const (
	keySign        = "sign"
	keyAccessToken = "access_token"
	keyTimestamp   = "timestamp"
)

// Sign produces the request signature for a TikTok Shop Open API call.
//
// The algorithm is an external contract validated by the provider:
// parameters minus sign/access_token and empty values, sorted bytewise,
// concatenated as key+value with no separators, prefixed with the API
// path, suffixed with the raw body unless the request is multipart,
// wrapped in the app secret on both sides and HMAC-SHA256'd with the
// secret as key. rawBody must be the exact bytes that will be
// transmitted.
//
// A timestamp (Unix seconds) is injected when the query has none. The
// returned query contains every signed parameter plus sign itself.
func Sign(query Values, apiPath string, rawBody []byte, contentType, appSecret string) (*SignedRequest, error) {
	apiPath = "/" + strings.TrimLeft(apiPath, "/")

	canonical := make(map[string]string, len(query)+1)
	for key, value := range query {
		if key == keySign || key == keyAccessToken {
			continue
		}
		if value == nil {
			return nil, fmt.Errorf("nil value for query parameter %q", key)
		}
		s, err := value.canonical()
		if err != nil {
			return nil, fmt.Errorf("query parameter %q: %w", key, err)
		}
		// The provider rejects empty parameters; they must appear in
		// neither the signed string nor the final query.
		if s == "" {
			continue
		}
		canonical[key] = s
	}

	if _, ok := canonical[keyTimestamp]; !ok {
		canonical[keyTimestamp] = strconv.FormatInt(time.Now().Unix(), 10)
	}
	timestamp, err := strconv.ParseInt(canonical[keyTimestamp], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("timestamp parameter is not numeric: %q", canonical[keyTimestamp])
	}

	keys := make([]string, 0, len(canonical))
	for key := range canonical {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(apiPath)
	for _, key := range keys {
		sb.WriteString(key)
		sb.WriteString(canonical[key])
	}

	isMultipart := strings.Contains(strings.ToLower(contentType), "multipart/form-data")
	if !isMultipart && len(rawBody) > 0 {
		sb.Write(rawBody)
	}

	wrapped := appSecret + sb.String() + appSecret

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(wrapped))
	signature := hex.EncodeToString(mac.Sum(nil))

	signedQuery := make(url.Values, len(canonical)+1)
	for key, value := range canonical {
		signedQuery.Set(key, value)
	}
	signedQuery.Set(keySign, signature)

	return &SignedRequest{
		Signature: signature,
		Timestamp: timestamp,
		Query:     signedQuery,
	}, nil
}

// MarshalBody serializes a request body to the compact JSON byte sequence
// that must be both signed and transmitted. HTML escaping is disabled so
// the signed bytes match what the provider sees.
func MarshalBody(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
