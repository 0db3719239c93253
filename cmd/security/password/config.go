package password

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak turns on the repeated-character and common-password checks.
	RejectVeryWeak bool
}

// Config pairs hashing cost with the acceptance policy for new passwords.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline used for account passwords.
// Values can be overridden via env.
func DefaultConfig() Config {
	// Parallelism follows the CPU count, clamped to [1..4] for predictable container usage.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// envOverrides lists the LATCH_* variables FromEnv honours. Nil fields are unset and keep
// the DefaultConfig value.
type envOverrides struct {
	MinLength      *int    `env:"LATCH_PASSWORD_MIN_LEN"`
	MaxLength      *int    `env:"LATCH_PASSWORD_MAX_LEN"`
	RejectVeryWeak *bool   `env:"LATCH_PASSWORD_REJECT_VERY_WEAK"`
	MemoryKiB      *uint32 `env:"LATCH_ARGON2_MEMORY_KIB"`
	Iterations     *uint32 `env:"LATCH_ARGON2_ITERATIONS"`
	Parallelism    *uint32 `env:"LATCH_ARGON2_PARALLELISM"`
	SaltLength     *uint32 `env:"LATCH_ARGON2_SALT_LEN"`
	KeyLength      *uint32 `env:"LATCH_ARGON2_KEY_LEN"`
}

// FromEnv returns DefaultConfig with LATCH_PASSWORD_* and LATCH_ARGON2_* overrides applied.
// Every override is range checked so a typo cannot produce a trivially cheap hash.
func FromEnv() (Config, error) {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return Config{}, fmt.Errorf("parse password env: %w", err)
	}

	cfg := DefaultConfig()
	if err := setInt(&cfg.Policy.MinLength, o.MinLength, "LATCH_PASSWORD_MIN_LEN", 1, 1024); err != nil {
		return Config{}, err
	}
	if err := setInt(&cfg.Policy.MaxLength, o.MaxLength, "LATCH_PASSWORD_MAX_LEN", 1, 4096); err != nil {
		return Config{}, err
	}
	if o.RejectVeryWeak != nil {
		cfg.Policy.RejectVeryWeak = *o.RejectVeryWeak
	}

	// 8 MiB .. 1 GiB
	if err := setU32(&cfg.Params.MemoryKiB, o.MemoryKiB, "LATCH_ARGON2_MEMORY_KIB", 8*1024, 1024*1024); err != nil {
		return Config{}, err
	}
	if err := setU32(&cfg.Params.Iterations, o.Iterations, "LATCH_ARGON2_ITERATIONS", 1, 20); err != nil {
		return Config{}, err
	}
	if o.Parallelism != nil {
		p := uint32(cfg.Params.Parallelism)
		if err := setU32(&p, o.Parallelism, "LATCH_ARGON2_PARALLELISM", 1, 64); err != nil {
			return Config{}, err
		}
		cfg.Params.Parallelism = uint8(p) // #nosec G115 -- bounded to [1..64] above.
	}
	if err := setU32(&cfg.Params.SaltLength, o.SaltLength, "LATCH_ARGON2_SALT_LEN", 8, 64); err != nil {
		return Config{}, err
	}
	if err := setU32(&cfg.Params.KeyLength, o.KeyLength, "LATCH_ARGON2_KEY_LEN", 16, 64); err != nil {
		return Config{}, err
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}
	return cfg, nil
}

func setInt(dst *int, v *int, name string, minVal, maxVal int) error {
	if v == nil {
		return nil
	}
	if *v < minVal || *v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", name, minVal, maxVal)
	}
	*dst = *v
	return nil
}

func setU32(dst *uint32, v *uint32, name string, minVal, maxVal uint32) error {
	if v == nil {
		return nil
	}
	if *v < minVal || *v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", name, minVal, maxVal)
	}
	*dst = *v
	return nil
}
