package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	phcAlgorithm = "argon2id"
	phcVersion   = argon2.Version

	// bcryptMaxCost bounds the work an attacker-controlled bcrypt hash can demand.
	bcryptMaxCost = 14
)

var phcEncoding = base64.RawStdEncoding

// phcHash is a decoded $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key> string.
type phcHash struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (h phcHash) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm, phcVersion,
		h.params.MemoryKiB, h.params.Iterations, h.params.Parallelism,
		phcEncoding.EncodeToString(h.salt),
		phcEncoding.EncodeToString(h.key),
	)
}

func derive(password string, salt []byte, p Argon2idParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
}

// Hash checks password against the policy and returns a fresh Argon2id PHC string.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	params := c.Params
	params.SaltLength = uint32(len(salt)) // #nosec G115 -- len(salt) == c.Params.SaltLength.
	return phcHash{params: params, salt: salt, key: derive(password, salt, params)}.String(), nil
}

// Verify reports whether password matches encodedHash, which may be Argon2id or bcrypt.
// A mismatch is (false, nil); a malformed or out-of-bounds hash is ErrInvalidHash.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	if isBcrypt(encodedHash) {
		return verifyBcrypt(encodedHash, password)
	}

	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	// Stored hashes are untrusted: refuse parameters far above what this deployment uses.
	if !withinReasonableBounds(h.params, c.Params) {
		return false, ErrInvalidHash
	}

	return subtle.ConstantTimeCompare(derive(password, h.salt, h.params), h.key) == 1, nil
}

// NeedsRehash reports whether encodedHash should be replaced by a fresh Hash result:
// bcrypt hashes, undecodable hashes, and Argon2id hashes weaker than the current params.
func (c Config) NeedsRehash(encodedHash string) bool {
	if isBcrypt(encodedHash) {
		return true
	}
	h, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	params := h.params
	return params.MemoryKiB < c.Params.MemoryKiB ||
		params.Iterations < c.Params.Iterations ||
		params.KeyLength < c.Params.KeyLength
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func verifyBcrypt(encoded, password string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil || cost > bcryptMaxCost {
		return false, ErrInvalidHash
	}

	err = bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}

func withinReasonableBounds(got, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2,
		got.Iterations > limits.Iterations*2,
		got.Parallelism > limits.Parallelism*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func parsePHC(encoded string) (phcHash, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != phcAlgorithm {
		return phcHash{}, ErrInvalidHash
	}
	if fields[2] != fmt.Sprintf("v=%d", phcVersion) {
		return phcHash{}, ErrInvalidHash
	}

	var mem, iter, par uint32
	if n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil || n != 3 {
		return phcHash{}, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || par == 0 || par > 255 {
		return phcHash{}, ErrInvalidHash
	}

	salt, err := phcEncoding.DecodeString(fields[4])
	if err != nil {
		return phcHash{}, ErrInvalidHash
	}
	key, err := phcEncoding.DecodeString(fields[5])
	if err != nil {
		return phcHash{}, ErrInvalidHash
	}

	return phcHash{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  iter,
			Parallelism: uint8(par),        // #nosec G115 -- checked <= 255 above.
			SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by withinReasonableBounds before use.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by withinReasonableBounds before use.
		},
		salt: salt,
		key:  key,
	}, nil
}
