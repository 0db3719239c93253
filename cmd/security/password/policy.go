package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks length in runes and, when enabled, the very-weak patterns.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// ValidateFor runs Validate and additionally rejects a password equal to the account email
// or to its local part.
func (c Config) ValidateFor(password, email string) error {
	if err := c.Validate(password); err != nil {
		return err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	pw := strings.ToLower(strings.TrimSpace(password))
	local, _, _ := strings.Cut(email, "@")
	if pw == email || (local != "" && pw == local) {
		return ErrWeakPassword
	}
	return nil
}

// commonPasswords holds entries that top every leaked-password list.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"passw0rd":    {},
	"qwerty":      {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"letmein":     {},
	"iloveyou":    {},
	"welcome1":    {},
	"admin123":    {},
	"abc12345":    {},
}

// looksVeryWeak flags a handful of trivially guessable shapes. It is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.ToLower(strings.TrimSpace(pw))
	if s == "" {
		return true
	}
	if _, ok := commonPasswords[s]; ok {
		return true
	}

	runes := []rune(s)
	if isDigits(runes) && len(runes) < 12 {
		return true
	}
	return isRepeated(runes) || isAscendingRun(runes)
}

func isDigits(rs []rune) bool {
	for _, r := range rs {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// isRepeated reports whether rs is one character repeated, e.g. "aaaaaaaa".
func isRepeated(rs []rune) bool {
	for _, r := range rs[1:] {
		if r != rs[0] {
			return false
		}
	}
	return true
}

// isAscendingRun reports whether each rune is the previous plus one, e.g. "abcdefgh".
func isAscendingRun(rs []rune) bool {
	for i := 1; i < len(rs); i++ {
		if rs[i] != rs[i-1]+1 {
			return false
		}
	}
	return true
}
