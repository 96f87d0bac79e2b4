package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials required for HMAC-authenticated requests
// against the ApeX Omni REST API.
type HMACAuth struct {
	Key        string // API key
	Secret     string // raw API secret; base64-encoded before use as HMAC key
	Passphrase string // API passphrase
}

// Headers returns the HTTP headers for an ApeX request. The signed message is
// timestamp+METHOD+path+data, where path includes the query string for GET
// requests and data is the form body otherwise. The HMAC key is the base64
// encoding of the raw secret, per the ApeX REST API key scheme.
//
// Returned header keys:
//   - APEX-API-KEY
//   - APEX-PASSPHRASE
//   - APEX-TIMESTAMP
//   - APEX-SIGNATURE
func (h *HMACAuth) Headers(method, path, data string) map[string]string {
	return h.HeadersAt(method, path, data, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the millisecond Unix
// timestamp (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, data string, unixMs int64) map[string]string {
	ts := strconv.FormatInt(unixMs, 10)

	message := ts + method + path + data
	key := []byte(base64.StdEncoding.EncodeToString([]byte(h.Secret)))
	sig := hmacSHA256Base64(key, message)

	return map[string]string{
		"APEX-API-KEY":    h.Key,
		"APEX-PASSPHRASE": h.Passphrase,
		"APEX-TIMESTAMP":  ts,
		"APEX-SIGNATURE":  sig,
	}
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
