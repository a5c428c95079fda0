// Package cryptoutil implements the request-signing primitives of
// spec.md §4.1: HMAC-SHA256 signing, constant-time comparison, and
// streaming file hashing. All of it is built on the standard library —
// HMAC/SHA-256 signing and crypto/subtle constant-time compares are
// how every signing component in the retrieval pack (e.g.
// raj00003-Trackshift's request signing) does this; no pack dependency
// offers anything beyond what crypto/hmac and crypto/subtle already
// are.
package cryptoutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"
	"strconv"

	"github.com/tamsilcms/agent/pkg/models"
)

// chunkSize is the minimum read size streamed from disk while hashing,
// per spec.md §4.1 ("≥4 KiB chunks").
const chunkSize = 32 * 1024

// SigningMessage builds the exact byte sequence signed for a request:
// decimal(timestamp) || "." || canonicalPayload.
func SigningMessage(timestampS int64, canonicalPayload []byte) []byte {
	msg := make([]byte, 0, 20+1+len(canonicalPayload))
	msg = append(msg, strconv.FormatInt(timestampS, 10)...)
	msg = append(msg, '.')
	msg = append(msg, canonicalPayload...)
	return msg
}

// HMACSHA256 computes HMAC-SHA256(key, message). It refuses empty
// keys, per spec.md §4.1's "signing API must refuse empty keys".
func HMACSHA256(key, message []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, models.ErrMissingSecret
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil), nil
}

// Sign produces the base64 signature for a signed request.
func Sign(sharedKey string, timestampS int64, canonicalPayload []byte) (string, error) {
	sum, err := HMACSHA256([]byte(sharedKey), SigningMessage(timestampS, canonicalPayload))
	if err != nil {
		return "", err
	}
	return Base64NoNewlines(sum), nil
}

// Verify recomputes the signature and compares it in constant time.
// An empty shared key always verifies false rather than erroring,
// matching spec.md §8's "verification returns false" boundary
// behaviour.
func Verify(sharedKey string, timestampS int64, canonicalPayload []byte, signature string) bool {
	if sharedKey == "" {
		return false
	}
	expected, err := Sign(sharedKey, timestampS, canonicalPayload)
	if err != nil {
		return false
	}
	return ConstantTimeEq([]byte(expected), []byte(signature))
}

// Base64NoNewlines encodes bytes as standard base64 with no embedded
// newlines (Go's base64.StdEncoding never wraps lines; this wrapper
// documents that guarantee at the call site).
func Base64NoNewlines(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// ConstantTimeEq reports whether a and b are byte-for-byte equal,
// without short-circuiting on content. Differing lengths return false
// immediately; that leaks only the length, which is not secret here.
func ConstantTimeEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// SHA256File streams path in chunkSize blocks and returns its 64-char
// lowercase hex digest, or "" if the file cannot be read.
func SHA256File(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
