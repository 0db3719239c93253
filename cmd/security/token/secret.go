package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	codeMin = 100000
	codeMax = 999999

	// CodeLength is the number of digits in a verification code.
	CodeLength = 6

	resetTokenBytes = 20

	// ResetTokenLength is the length of an encoded reset token.
	ResetTokenLength = resetTokenBytes * 2
)

// NewVerificationCode returns a uniformly random six digit code in [100000, 999999].
func NewVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("token: read random code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// NewResetToken returns 20 random bytes as lower-case hex.
func NewResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: read random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NormalizeCode trims s and reports whether it has the shape of a verification code.
func NormalizeCode(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) != CodeLength {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", false
		}
	}
	if s[0] == '0' {
		return "", false
	}
	return s, true
}

// NormalizeResetToken trims and lower-cases s and reports whether it has the shape of a reset token.
func NormalizeResetToken(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != ResetTokenLength {
		return "", false
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", false
	}
	return s, true
}
