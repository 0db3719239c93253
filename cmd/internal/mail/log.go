package mail

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the logger instead of delivering them.
// Secrets (codes, reset URLs) are only included when revealSecrets is set.
type LogSender struct {
	log           *slog.Logger
	revealSecrets bool
}

// NewLogSender returns a LogSender writing to log (slog.Default when nil).
func NewLogSender(log *slog.Logger, revealSecrets bool) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log, revealSecrets: revealSecrets}
}

func (s *LogSender) SendVerificationCode(ctx context.Context, msg VerificationMessage) error {
	attrs := []any{"to", msg.To, "expires_at", msg.ExpiresAt}
	if s.revealSecrets {
		attrs = append(attrs, "code", msg.Code)
	}
	s.log.InfoContext(ctx, "mail.verification_code", attrs...)
	return nil
}

func (s *LogSender) SendPasswordReset(ctx context.Context, msg PasswordResetMessage) error {
	attrs := []any{"to", msg.To, "expires_at", msg.ExpiresAt}
	if s.revealSecrets {
		attrs = append(attrs, "reset_url", msg.ResetURL)
	}
	s.log.InfoContext(ctx, "mail.password_reset", attrs...)
	return nil
}
