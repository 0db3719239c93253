// Package mail delivers verification codes and password-reset links.
package mail

import (
	"context"
	"time"
)

// VerificationMessage carries a sign-up verification code to its recipient.
type VerificationMessage struct {
	To        string
	Username  string
	Code      string
	ExpiresAt time.Time
}

// PasswordResetMessage carries a password-reset link to its recipient.
type PasswordResetMessage struct {
	To        string
	Username  string
	ResetURL  string
	ExpiresAt time.Time
}

// Sender is the outbound notification sink.
type Sender interface {
	SendVerificationCode(ctx context.Context, msg VerificationMessage) error
	SendPasswordReset(ctx context.Context, msg PasswordResetMessage) error
}

// NoopSender drops every message.
type NoopSender struct{}

func (NoopSender) SendVerificationCode(context.Context, VerificationMessage) error { return nil }

func (NoopSender) SendPasswordReset(context.Context, PasswordResetMessage) error { return nil }
