package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// Returned by NewHasher when HMAC mode is required.
var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "LATCH_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the shortest key accepted when HMAC is required.
	MinHMACKeyBytes = 32
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher turns secrets into storage digests. The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher builds a Hasher from key. When requireHMAC is set the key must be present and
// at least MinHMACKeyBytes long.
func NewHasher(key string, requireHMAC bool) (Hasher, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		if requireHMAC {
			return Hasher{}, ErrHMACKeyMissing
		}
		return Hasher{}, nil
	}
	if requireHMAC && len(key) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return Hasher{key: []byte(key)}, nil
}

// HasherFromEnv reads HMACEnvKey and delegates to NewHasher.
func HasherFromEnv(requireHMAC bool) (Hasher, error) {
	return NewHasher(os.Getenv(HMACEnvKey), requireHMAC)
}

// HMACEnabled reports whether h uses a keyed digest.
func (h Hasher) HMACEnabled() bool { return len(h.key) > 0 }

// Hash returns the hex digest of secret.
func (h Hasher) Hash(secret string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(secret)
	}
	return HashHMACSHA256Hex(secret, h.key)
}

// Equal compares secret against a stored digest in constant time.
func (h Hasher) Equal(secret, digest string) bool {
	got := h.Hash(secret)
	return hmac.Equal([]byte(got), []byte(strings.ToLower(strings.TrimSpace(digest))))
}
