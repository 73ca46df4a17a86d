// Package crypto provides the integrity stamps attached to memory envelopes and
// deletion receipts. The stamps detect tampering with stored data; they are not
// an authentication mechanism.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const sigPrefix = "sig:"

// DefaultSecret is the shared secret used when none is configured.
const DefaultSecret = "local-demo-secret"

// Signer produces an integrity tag over a byte string.
type Signer interface {
	Sign(data []byte) string
}

// Verifier is a Signer that can also check a tag it produced.
type Verifier interface {
	Signer
	Verify(data []byte, tag string) bool
}

// HMACSigner signs with HMAC-SHA256 under a fixed shared secret.
// Tags have the form "sig:" + hex(mac).
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates a signer. An empty secret falls back to DefaultSecret.
func NewHMACSigner(secret string) *HMACSigner {
	if secret == "" {
		secret = DefaultSecret
	}
	return &HMACSigner{secret: []byte(secret)}
}

// Sign returns the tag for data.
func (s *HMACSigner) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return sigPrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether tag is the tag of data, in constant time.
func (s *HMACSigner) Verify(data []byte, tag string) bool {
	if !strings.HasPrefix(tag, sigPrefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(tag, sigPrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), want)
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
