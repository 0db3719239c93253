package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinSecretBytes is the shortest accepted HS256 signing secret.
const MinSecretBytes = 32

// Config controls bearer token issuance.
type Config struct {
	// Issuer is written to and required in the "iss" claim.
	Issuer string `env:"LATCH_AUTH_ISSUER" envDefault:"latch"`

	// TokenTTL is the lifetime of an issued token.
	TokenTTL time.Duration `env:"LATCH_AUTH_TOKEN_TTL" envDefault:"1h"`

	// ClockSkew is the leeway applied to exp/nbf/iat during verification.
	ClockSkew time.Duration `env:"LATCH_AUTH_CLOCK_SKEW" envDefault:"30s"`

	// Secret is the HS256 signing key.
	Secret string `env:"LATCH_JWT_SECRET"`
}

// DefaultConfig returns the defaults without a secret.
func DefaultConfig() Config {
	return Config{
		Issuer:    "latch",
		TokenTTL:  time.Hour,
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv parses session configuration from the environment and validates it.
//
// Required:
//   - LATCH_JWT_SECRET (at least MinSecretBytes bytes)
//
// Optional:
//   - LATCH_AUTH_ISSUER, LATCH_AUTH_TOKEN_TTL, LATCH_AUTH_CLOCK_SKEW
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the Manager relies on.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	case c.TokenTTL <= 0:
		return fmt.Errorf("%w: token ttl must be positive", ErrConfig)
	case c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute:
		return fmt.Errorf("%w: clock skew must be within [0, 5m]", ErrConfig)
	case len(strings.TrimSpace(c.Secret)) < MinSecretBytes:
		return fmt.Errorf("%w: LATCH_JWT_SECRET must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	return nil
}
