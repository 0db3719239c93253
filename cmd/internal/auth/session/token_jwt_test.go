package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.ClockSkew = 0
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManager_IssueVerify(t *testing.T) {
	m := newTestManager(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tok, exp, err := m.Issue("01HZX0000000000000000000AB", "ada@example.com", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("exp=%v want %v", exp, now.Add(time.Hour))
	}

	c, err := m.Verify(tok, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.UserID != "01HZX0000000000000000000AB" || c.Email != "ada@example.com" {
		t.Fatalf("unexpected claims: %+v", c)
	}
	if !c.ExpiresAt.Equal(exp) {
		t.Fatalf("claims exp=%v want %v", c.ExpiresAt, exp)
	}
}

func TestManager_VerifyRejects(t *testing.T) {
	m := newTestManager(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tok, _, err := m.Issue("user-1", "u@example.com", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := DefaultConfig()
	other.Secret = testSecret + "-other"
	otherM, err := NewManager(other)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	otherIssuer := DefaultConfig()
	otherIssuer.Secret = testSecret
	otherIssuer.Issuer = "someone-else"
	issuerM, err := NewManager(otherIssuer)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    "latch",
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	noneTok, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	cases := []struct {
		name string
		m    *Manager
		tok  string
		at   time.Time
	}{
		{"expired", m, tok, now.Add(time.Hour + time.Second)},
		{"not yet valid", m, tok, now.Add(-time.Minute)},
		{"wrong secret", otherM, tok, now},
		{"wrong issuer", issuerM, tok, now},
		{"alg none", m, noneTok, now},
		{"garbage", m, "not.a.jwt", now},
		{"empty", m, "  ", now},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.m.Verify(tc.tok, tc.at); err != ErrInvalidToken {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewManager_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := NewManager(cfg); err == nil {
		t.Fatalf("expected error without secret")
	}
}
