package account

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls secret lifetimes and the links mailed to users.
type Config struct {
	// VerificationTTL is how long a sign-up verification code stays valid.
	VerificationTTL time.Duration `env:"LATCH_VERIFICATION_TTL" envDefault:"15m"`

	// ResetTTL is how long a password-reset token stays valid.
	ResetTTL time.Duration `env:"LATCH_RESET_TTL" envDefault:"60m"`

	// ClientURL is the base of the web client; reset links point at
	// <ClientURL>/sign-in/reset-password/<token>.
	ClientURL string `env:"LATCH_CLIENT_URL" envDefault:"http://localhost:3000"`

	// MaxCodeAttempts bounds retries when a generated code collides with a live one.
	MaxCodeAttempts int `env:"LATCH_MAX_CODE_ATTEMPTS" envDefault:"5"`

	// SweepInterval is the period of the expired-secret purge loop. Zero disables it.
	SweepInterval time.Duration `env:"LATCH_SWEEP_INTERVAL" envDefault:"5m"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		VerificationTTL: 15 * time.Minute,
		ResetTTL:        60 * time.Minute,
		ClientURL:       "http://localhost:3000",
		MaxCodeAttempts: 5,
		SweepInterval:   5 * time.Minute,
	}
}

// LoadConfigFromEnv parses LATCH_VERIFICATION_TTL, LATCH_RESET_TTL, LATCH_CLIENT_URL,
// LATCH_MAX_CODE_ATTEMPTS and LATCH_SWEEP_INTERVAL.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse account env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and the client URL.
func (c Config) Validate() error {
	if c.VerificationTTL <= 0 || c.VerificationTTL > 24*time.Hour {
		return fmt.Errorf("account: verification ttl must be within (0, 24h]")
	}
	if c.ResetTTL <= 0 || c.ResetTTL > 24*time.Hour {
		return fmt.Errorf("account: reset ttl must be within (0, 24h]")
	}
	if c.MaxCodeAttempts < 1 || c.MaxCodeAttempts > 20 {
		return fmt.Errorf("account: max code attempts must be within [1, 20]")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("account: sweep interval must not be negative")
	}
	u, err := url.Parse(strings.TrimSpace(c.ClientURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("account: LATCH_CLIENT_URL must be an absolute http(s) URL")
	}
	return nil
}
