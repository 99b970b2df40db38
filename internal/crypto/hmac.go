package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names set by RequestSigner.
const (
	HeaderKey       = "X-Ideapool-Key"
	HeaderTimestamp = "X-Ideapool-Timestamp"
	HeaderSignature = "X-Ideapool-Signature"
)

// RequestSigner holds the credentials used to HMAC-sign requests to the
// idea store, so it can tell orchestrator writes from browser traffic.
type RequestSigner struct {
	Key    string // key id sent in clear
	Secret string // shared secret
}

// Headers returns the signing headers for a request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
//
// Returned header keys:
//   - X-Ideapool-Key
//   - X-Ideapool-Timestamp
//   - X-Ideapool-Signature
func (s *RequestSigner) Headers(method, path, body string) map[string]string {
	return s.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (s *RequestSigner) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       s.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(s.Secret), ts+method+path+body),
	}
}

// Verify checks a signature produced by Headers in constant time.
func (s *RequestSigner) Verify(method, path, body, ts, signature string) bool {
	want := hmacSHA256Base64([]byte(s.Secret), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(signature))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (s *RequestSigner) String() string {
	redact := func(v string) string {
		if len(v) <= 4 {
			return "****"
		}
		return v[:4] + "****"
	}
	return fmt.Sprintf("RequestSigner{key=%s, secret=%s}", redact(s.Key), redact(s.Secret))
}
