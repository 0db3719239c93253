package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Uniqueness of accounts and pending signups is enforced on this form.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeUsername trims surrounding whitespace. Usernames are display names and are not unique.
func NormalizeUsername(s string) string {
	return strings.TrimSpace(s)
}
