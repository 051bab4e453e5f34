package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const opaqueTokenBytes = 32

// OpaqueTokenCodec issues random bearer tokens and computes the SHA-256
// fingerprint used as their storage key. Only fingerprints are ever persisted.
type OpaqueTokenCodec struct{}

// NewOpaqueTokenCodec returns the codec used for session and magic-link tokens.
func NewOpaqueTokenCodec() *OpaqueTokenCodec {
	return &OpaqueTokenCodec{}
}

// NewOpaqueToken returns a URL-safe random token carrying 256 bits of entropy.
func (c *OpaqueTokenCodec) NewOpaqueToken() (string, error) {
	raw := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random token bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Fingerprint returns the hex SHA-256 digest of the token.
func (c *OpaqueTokenCodec) Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyFingerprint recomputes the digest and compares in constant time.
func (c *OpaqueTokenCodec) VerifyFingerprint(token, digest string) bool {
	computed := c.Fingerprint(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
