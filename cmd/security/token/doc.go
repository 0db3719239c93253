// Package token generates the one-time secrets used by latch and hashes them for storage.
//
// Two kinds of secret exist:
//   - verification codes: six decimal digits mailed after sign-up
//   - reset tokens: 20 random bytes, hex encoded, embedded in a reset link
//
// Neither is stored in plaintext. A Hasher produces a stable 64-char hex digest:
// HMAC-SHA256(secret, key) when a key is configured, SHA-256(secret) otherwise (dev only).
//
// Environment:
//   - LATCH_TOKEN_HMAC_KEY: when set, enables HMAC mode.
//
// Policy:
//   - With RequireHMAC, NewHasher refuses a missing key or one shorter than MinHMACKeyBytes.
package token
