package password

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

const benchPassword = "correct horse battery staple"

// BenchmarkSignInVerify measures the cost a sign-in pays per stored hash format.
func BenchmarkSignInVerify(b *testing.B) {
	cfg := DefaultConfig()

	argon, err := cfg.Hash(benchPassword)
	if err != nil {
		b.Fatalf("Hash: %v", err)
	}
	legacy, err := bcrypt.GenerateFromPassword([]byte(benchPassword), bcrypt.DefaultCost)
	if err != nil {
		b.Fatalf("bcrypt: %v", err)
	}

	for _, bc := range []struct {
		name string
		hash string
	}{
		{"argon2id", argon},
		{"bcrypt", string(legacy)},
	} {
		b.Run(bc.name, func(b *testing.B) {
			for b.Loop() {
				ok, err := cfg.Verify(bc.hash, benchPassword)
				if err != nil || !ok {
					b.Fatalf("Verify: ok=%v err=%v", ok, err)
				}
			}
		})
	}
}

func BenchmarkHash(b *testing.B) {
	cfg := DefaultConfig()
	for b.Loop() {
		if _, err := cfg.Hash(benchPassword); err != nil {
			b.Fatalf("Hash: %v", err)
		}
	}
}
