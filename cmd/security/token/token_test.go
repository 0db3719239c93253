package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHasher_SHAFallback(t *testing.T) {
	h, err := NewHasher("", false)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if h.HMACEnabled() {
		t.Fatalf("expected SHA mode without key")
	}
	if got, want := h.Hash("abc"), HashSHA256Hex("abc"); got != want {
		t.Fatalf("Hash=%q want %q", got, want)
	}
}

func TestHasher_HMAC(t *testing.T) {
	key := strings.Repeat("k", MinHMACKeyBytes)
	h, err := NewHasher(key, true)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	got := h.Hash("123456")
	if got != HashHMACSHA256Hex("123456", []byte(key)) {
		t.Fatalf("unexpected digest")
	}
	if got == HashSHA256Hex("123456") {
		t.Fatalf("HMAC digest must differ from plain SHA-256")
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if !h.Equal("123456", strings.ToUpper(got)) {
		t.Fatalf("Equal must accept the matching digest")
	}
	if h.Equal("654321", got) {
		t.Fatalf("Equal must reject a different secret")
	}
}

func TestNewHasher_Policy(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		require bool
		want    error
	}{
		{"missing required", "  ", true, ErrHMACKeyMissing},
		{"short required", "short", true, ErrHMACKeyTooShort},
		{"short optional", "short", false, nil},
		{"long required", strings.Repeat("x", 40), true, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewHasher(tc.key, tc.require)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestHasherFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, strings.Repeat("e", 32))
	h, err := HasherFromEnv(true)
	if err != nil {
		t.Fatalf("HasherFromEnv: %v", err)
	}
	if !h.HMACEnabled() {
		t.Fatalf("expected HMAC mode from env")
	}
}
