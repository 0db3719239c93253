package session

import "errors"

var (
	// ErrInvalidToken is returned when a bearer token fails verification or validation.
	// Callers cannot tell a bad signature from an expired token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
