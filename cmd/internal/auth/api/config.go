package authapi

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	defaultMaxBodyBytes = 1 << 20
	maxMaxBodyBytes     = 8 << 20
)

// Config controls auth API request handling.
type Config struct {
	// TrustProxy makes clientIP honour X-Forwarded-For / X-Real-IP. Enable only behind a proxy
	// that overwrites those headers.
	TrustProxy bool `env:"LATCH_AUTH_TRUST_PROXY" envDefault:"false"`

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64 `env:"LATCH_AUTH_MAX_BODY_BYTES" envDefault:"1048576"`
}

// DefaultConfig returns the envDefault values.
func DefaultConfig() Config {
	return Config{MaxBodyBytes: defaultMaxBodyBytes}
}

// LoadConfigFromEnv loads auth API config from LATCH_AUTH_* variables.
// An out-of-range body limit falls back to the default.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse auth api env: %w", err)
	}
	if cfg.MaxBodyBytes <= 0 || cfg.MaxBodyBytes > maxMaxBodyBytes {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return cfg, nil
}
