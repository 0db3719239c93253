package account

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrWeakPassword        = errors.New("password does not meet policy")
	ErrEmailTaken          = errors.New("email already registered")
	ErrVerificationPending = errors.New("verification already pending for email")
	ErrInvalidCode         = errors.New("invalid or expired verification code")
	ErrInvalidToken        = errors.New("invalid or expired reset token")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrMailDelivery        = errors.New("mail delivery failed")

	// ErrCodeSpaceExhausted means every generated code collided with a live pending signup.
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique verification code")
)
