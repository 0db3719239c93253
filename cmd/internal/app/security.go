package app

import (
	"errors"
	"fmt"

	"latch/cmd/security/token"
)

// SecretHasher builds the digest used for verification codes and reset tokens, enforcing the
// LATCH_REQUIRE_TOKEN_HMAC policy. Startup fails rather than falling back to plain SHA-256.
func SecretHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, fmt.Errorf("security policy: LATCH_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("security policy: LATCH_REQUIRE_TOKEN_HMAC=true but %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
	default:
		return token.Hasher{}, err
	}

	if cfg.RequireTokenHMAC && !h.HMACEnabled() {
		return token.Hasher{}, errors.New("security policy: LATCH_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
