package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified content of a bearer token.
type Claims struct {
	UserID    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 bearer tokens.
type Manager struct {
	issuer string
	ttl    time.Duration
	skew   time.Duration
	secret []byte
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		issuer: strings.TrimSpace(cfg.Issuer),
		ttl:    cfg.TokenTTL,
		skew:   cfg.ClockSkew,
		secret: []byte(strings.TrimSpace(cfg.Secret)),
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a token for userID/email valid from now until now+TTL.
func (m *Manager) Issue(userID, email string, now time.Time) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("session: missing user id")
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(m.ttl)

	claims := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and time claims at now.
// Every failure is reported as ErrInvalidToken.
func (m *Manager) Verify(raw string, now time.Time) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now()
	}

	var parsed tokenClaims
	tok, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		UserID: parsed.Subject,
		Email:  parsed.Email,
	}
	if parsed.IssuedAt != nil {
		out.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	if parsed.ExpiresAt != nil {
		out.ExpiresAt = parsed.ExpiresAt.Time.UTC()
	}
	return out, nil
}
