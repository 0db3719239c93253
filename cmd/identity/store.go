package identity

import (
	"context"
	"strings"
	"time"
)

// User is an active, verified account.
type User struct {
	ID           string
	Username     string
	Email        string
	EmailNorm    string
	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PendingSignup is a registration waiting for its verification code.
// The row carries everything needed to create the User once the code is consumed.
type PendingSignup struct {
	ID           string
	Username     string
	Email        string
	EmailNorm    string
	PasswordHash string

	// CodeHash is the digest of the mailed verification code; the code itself is never stored.
	CodeHash string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// ResetToken is a live password-reset grant. A user has at most one.
type ResetToken struct {
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PurgeResult counts rows removed by PurgeExpired.
type PurgeResult struct {
	PendingSignups int64
	ResetTokens    int64
}

// Store is the account persistence boundary.
//
// Consumption contract (ConsumePendingSignup, ConsumeResetToken):
//   - a secret matches only while expires_at > now
//   - consumption deletes the secret in the same transaction as the account write
//   - missing, expired and already consumed secrets all return ErrNotActive
type Store interface {
	// CreatePendingSignup stores p, replacing an expired pending signup for the same email.
	// ConflictError{Field: FieldEmail} when an account exists for the email,
	// {Field: FieldPendingSignup} when a live pending signup exists,
	// {Field: FieldVerificationCode} when p.CodeHash is held by another live pending signup.
	CreatePendingSignup(ctx context.Context, p PendingSignup, now time.Time) error

	// GetPendingSignupByEmail returns the live pending signup for an email. NotFound otherwise.
	GetPendingSignupByEmail(ctx context.Context, email string, now time.Time) (PendingSignup, error)

	// RefreshPendingCode swaps the code of the live pending signup for email. The old code stops working.
	RefreshPendingCode(ctx context.Context, email, codeHash string, expiresAt, now time.Time) error

	// ConsumePendingSignup turns the pending signup holding codeHash into a User with ID userID.
	ConsumePendingSignup(ctx context.Context, codeHash, userID string, now time.Time) (User, error)

	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string, now time.Time) error

	// PutResetToken stores t as the only reset token of t.UserID.
	PutResetToken(ctx context.Context, t ResetToken) error

	// ConsumeResetToken deletes the live token holding tokenHash and stores passwordHash for its user.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (User, error)

	// PurgeExpired deletes pending signups and reset tokens with expires_at <= now.
	PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// preparePending normalizes p in place and checks required fields.
func preparePending(op string, p *PendingSignup) error {
	p.Username = NormalizeUsername(p.Username)
	p.Email = strings.TrimSpace(p.Email)
	p.EmailNorm = NormalizeEmail(p.Email)
	p.CodeHash = strings.ToLower(p.CodeHash)
	p.CreatedAt = p.CreatedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()
	switch {
	case p.ID == "":
		return invalid(op, "missing id")
	case p.Username == "":
		return invalid(op, "missing username")
	case p.EmailNorm == "":
		return invalid(op, "missing email")
	case p.PasswordHash == "":
		return invalid(op, "missing password hash")
	case len(p.CodeHash) != 64:
		return invalid(op, "code hash must be 64 hex chars")
	case !p.ExpiresAt.After(p.CreatedAt):
		return invalid(op, "expires_at must be after created_at")
	}
	return nil
}

func validateReset(op string, t ResetToken) error {
	switch {
	case t.UserID == "":
		return invalid(op, "missing user id")
	case len(t.TokenHash) != 64:
		return invalid(op, "token hash must be 64 hex chars")
	case !t.ExpiresAt.After(t.CreatedAt):
		return invalid(op, "expires_at must be after created_at")
	}
	return nil
}

func orNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}
