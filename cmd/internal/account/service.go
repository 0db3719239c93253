package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"latch/cmd/identity"
	"latch/cmd/identity/ids"
	"latch/cmd/internal/auth/session"
	"latch/cmd/internal/mail"
	"latch/cmd/internal/metrics"
	"latch/cmd/security/password"
	"latch/cmd/security/token"
)

const (
	maxUsernameRunes = 64
	maxEmailBytes    = 254

	// dummyPassword feeds the hash compared against when sign-in names an unknown email.
	dummyPassword = "latch-timing-parity-placeholder"
)

// Service runs the account lifecycle.
type Service struct {
	store     identity.Store
	sessions  *session.Manager
	cfg       Config
	passwords password.Config
	hasher    token.Hasher
	mailer    mail.Sender
	log       *slog.Logger
	metrics   *metrics.Registry
	now       func() time.Time

	dummyHash string
}

// Option configures the Service.
type Option func(*Service) error

// WithMailer sets the outbound sink for codes and reset links. Defaults to mail.NoopSender.
func WithMailer(m mail.Sender) Option {
	return func(s *Service) error {
		if m == nil {
			return fmt.Errorf("%w: nil mailer", ErrInvalidInput)
		}
		s.mailer = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithPasswordConfig overrides the password hashing and policy configuration.
func WithPasswordConfig(cfg password.Config) Option {
	return func(s *Service) error {
		s.passwords = cfg
		return nil
	}
}

// WithHasher sets the digest used for codes and reset tokens at rest.
func WithHasher(h token.Hasher) Option {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidInput)
		}
		s.now = now
		return nil
	}
}

// NewService constructs a Service. The store and session manager are required.
func NewService(store identity.Store, sessions *session.Manager, cfg Config, opts ...Option) (*Service, error) {
	if store == nil || sessions == nil {
		return nil, fmt.Errorf("%w: store and session manager are required", ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		store:     store,
		sessions:  sessions,
		cfg:       cfg,
		passwords: password.DefaultConfig(),
		mailer:    mail.NoopSender{},
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	dummy, err := s.passwords.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("account: build dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) clock() time.Time { return s.now().UTC() }

// SignUpInput is the registration request.
type SignUpInput struct {
	Username string
	Email    string
	Password string
}

// SignUpResult describes the pending signup that was created.
type SignUpResult struct {
	Email     string
	ExpiresAt time.Time
}

// SignUp stores a pending signup and mails its verification code.
//
// ErrEmailTaken when an account already uses the email; ErrVerificationPending when a
// live pending signup exists for it (use ResendVerification).
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (SignUpResult, error) {
	username := identity.NormalizeUsername(in.Username)
	email := strings.TrimSpace(in.Email)
	if err := validateUsername(username); err != nil {
		return SignUpResult{}, err
	}
	if err := validateEmail(email); err != nil {
		return SignUpResult{}, err
	}
	if err := s.passwords.ValidateFor(in.Password, email); err != nil {
		return SignUpResult{}, fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return SignUpResult{}, ErrEmailTaken
	} else if !identity.IsNotFound(err) {
		return SignUpResult{}, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return SignUpResult{}, err
	}

	now := s.clock()
	id, err := ids.NewULID(now)
	if err != nil {
		return SignUpResult{}, err
	}
	p := identity.PendingSignup{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.VerificationTTL),
	}

	code, err := s.allocateCode(func(codeHash string) error {
		p.CodeHash = codeHash
		return s.store.CreatePendingSignup(ctx, p, now)
	})
	if err != nil {
		switch identity.ConflictField(err) {
		case identity.FieldEmail:
			return SignUpResult{}, ErrEmailTaken
		case identity.FieldPendingSignup:
			return SignUpResult{}, ErrVerificationPending
		}
		return SignUpResult{}, err
	}

	if err := s.sendCode(ctx, username, email, code, p.ExpiresAt); err != nil {
		return SignUpResult{}, err
	}
	return SignUpResult{Email: email, ExpiresAt: p.ExpiresAt}, nil
}

// ResendVerification replaces the code of the live pending signup for email and mails the new one.
// The previous code stops working. An email with no live pending signup is a silent no-op.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	now := s.clock()
	p, err := s.store.GetPendingSignupByEmail(ctx, email, now)
	if identity.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	expiresAt := now.Add(s.cfg.VerificationTTL)
	code, err := s.allocateCode(func(codeHash string) error {
		return s.store.RefreshPendingCode(ctx, email, codeHash, expiresAt, now)
	})
	if identity.IsNotFound(err) {
		// Consumed or expired between the lookup and the refresh.
		return nil
	}
	if err != nil {
		return err
	}
	return s.sendCode(ctx, p.Username, p.Email, code, expiresAt)
}

// VerifyEmail consumes a verification code and activates the account it belongs to.
func (s *Service) VerifyEmail(ctx context.Context, code string) (identity.User, error) {
	code, ok := token.NormalizeCode(code)
	if !ok {
		return identity.User{}, ErrInvalidCode
	}

	now := s.clock()
	userID, err := ids.NewULID(now)
	if err != nil {
		return identity.User{}, err
	}

	u, err := s.store.ConsumePendingSignup(ctx, s.hasher.Hash(code), userID, now)
	switch {
	case err == nil:
		return u, nil
	case identity.IsNotActive(err):
		return identity.User{}, ErrInvalidCode
	case identity.ConflictField(err) == identity.FieldEmail:
		return identity.User{}, ErrEmailTaken
	default:
		return identity.User{}, err
	}
}

// SignInResult is an issued bearer token.
type SignInResult struct {
	Token     string
	ExpiresAt time.Time
	User      identity.User
}

// SignIn checks credentials and issues a bearer token. Unknown email and wrong password both
// return ErrInvalidCredentials after a full hash verification.
func (s *Service) SignIn(ctx context.Context, email, pw string) (SignInResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || pw == "" || len(email) > maxEmailBytes {
		_, _ = s.passwords.Verify(s.dummyHash, pw)
		return SignInResult{}, ErrInvalidCredentials
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) {
		_, _ = s.passwords.Verify(s.dummyHash, pw)
		return SignInResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return SignInResult{}, err
	}

	ok, err := s.passwords.Verify(u.PasswordHash, pw)
	if err != nil {
		s.log.Error("account.signin.hash_invalid", "user_id", u.ID, "err", err)
		return SignInResult{}, ErrInvalidCredentials
	}
	if !ok {
		return SignInResult{}, ErrInvalidCredentials
	}

	now := s.clock()
	if s.passwords.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u, pw, now)
	}

	tok, exp, err := s.sessions.Issue(u.ID, u.Email, now)
	if err != nil {
		return SignInResult{}, fmt.Errorf("account: issue token: %w", err)
	}
	return SignInResult{Token: tok, ExpiresAt: exp, User: u}, nil
}

// rehash upgrades a legacy or weaker stored hash. Failures are logged and never block sign-in.
func (s *Service) rehash(ctx context.Context, u identity.User, pw string, now time.Time) {
	fresh, err := s.passwords.Hash(pw)
	if err != nil {
		// Legacy passwords may predate the current policy.
		s.log.Info("account.signin.rehash_skipped", "user_id", u.ID, "err", err)
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, u.ID, fresh, now); err != nil {
		s.log.Warn("account.signin.rehash_failed", "user_id", u.ID, "err", err)
		return
	}
	s.log.Info("account.signin.rehashed", "user_id", u.ID)
}

// ForgotPassword mails a reset link when email belongs to an account. The link replaces any
// earlier one for that account. Unknown emails and delivery failures are not reported to the caller.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	now := s.clock()
	expiresAt := now.Add(s.cfg.ResetTTL)

	var raw string
	for attempt := 0; attempt < s.cfg.MaxCodeAttempts; attempt++ {
		raw, err = token.NewResetToken()
		if err != nil {
			return err
		}
		err = s.store.PutResetToken(ctx, identity.ResetToken{
			UserID:    u.ID,
			TokenHash: s.hasher.Hash(raw),
			CreatedAt: now,
			ExpiresAt: expiresAt,
		})
		if identity.ConflictField(err) != identity.FieldResetToken {
			break
		}
	}
	if err != nil {
		return err
	}

	link, err := s.ResetURL(raw)
	if err != nil {
		return err
	}
	msg := mail.PasswordResetMessage{To: u.Email, Username: u.Username, ResetURL: link, ExpiresAt: expiresAt}
	if err := s.mailer.SendPasswordReset(ctx, msg); err != nil {
		s.metrics.MailFailure("password_reset")
		s.log.Error("account.forgot_password.mail_failed", "user_id", u.ID, "err", err)
	}
	return nil
}

// ResetURL builds the client link carrying a raw reset token.
func (s *Service) ResetURL(raw string) (string, error) {
	return url.JoinPath(strings.TrimSpace(s.cfg.ClientURL), "sign-in", "reset-password", raw)
}

// ResetPassword consumes a reset token and stores newPassword for its account.
// The token is not spent when newPassword fails the policy.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) (identity.User, error) {
	raw, ok := token.NormalizeResetToken(rawToken)
	if !ok {
		return identity.User{}, ErrInvalidToken
	}
	if err := s.passwords.Validate(newPassword); err != nil {
		return identity.User{}, fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}
	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return identity.User{}, err
	}

	u, err := s.store.ConsumeResetToken(ctx, s.hasher.Hash(raw), hash, s.clock())
	if identity.IsNotActive(err) {
		return identity.User{}, ErrInvalidToken
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

// Authenticate verifies a bearer token.
func (s *Service) Authenticate(ctx context.Context, bearer string) (session.Claims, error) {
	if err := ctx.Err(); err != nil {
		return session.Claims{}, err
	}
	claims, err := s.sessions.Verify(bearer, s.clock())
	if err != nil {
		return session.Claims{}, ErrUnauthenticated
	}
	return claims, nil
}

// Me loads the account behind verified claims. A token for a missing account is ErrUnauthenticated.
func (s *Service) Me(ctx context.Context, userID string) (identity.User, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if identity.IsNotFound(err) {
		return identity.User{}, ErrUnauthenticated
	}
	return u, err
}

// PurgeExpired removes expired pending signups and reset tokens.
func (s *Service) PurgeExpired(ctx context.Context) (identity.PurgeResult, error) {
	res, err := s.store.PurgeExpired(ctx, s.clock())
	if err != nil {
		return identity.PurgeResult{}, err
	}
	s.metrics.Purged(res.PendingSignups, res.ResetTokens)
	return res, nil
}

// allocateCode generates codes until store accepts one without a verification_code conflict.
func (s *Service) allocateCode(store func(codeHash string) error) (string, error) {
	for attempt := 0; attempt < s.cfg.MaxCodeAttempts; attempt++ {
		code, err := token.NewVerificationCode()
		if err != nil {
			return "", err
		}
		err = store(s.hasher.Hash(code))
		if err == nil {
			return code, nil
		}
		if identity.ConflictField(err) != identity.FieldVerificationCode {
			return "", err
		}
	}
	return "", ErrCodeSpaceExhausted
}

func (s *Service) sendCode(ctx context.Context, username, email, code string, expiresAt time.Time) error {
	msg := mail.VerificationMessage{To: email, Username: username, Code: code, ExpiresAt: expiresAt}
	if err := s.mailer.SendVerificationCode(ctx, msg); err != nil {
		s.metrics.MailFailure("verification")
		s.log.Error("account.verification.mail_failed", "email", identity.NormalizeEmail(email), "err", err)
		return fmt.Errorf("%w: %v", ErrMailDelivery, err)
	}
	return nil
}

func validateUsername(u string) error {
	if u == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(u) > maxUsernameRunes {
		return fmt.Errorf("%w: username is too long", ErrInvalidInput)
	}
	return nil
}

func validateEmail(e string) error {
	if e == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if len(e) > maxEmailBytes || strings.ContainsAny(e, " \t\r\n") {
		return fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	local, domain, ok := strings.Cut(e, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	return nil
}

// IsClientError reports whether err is one of the caller-facing errors of this package.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidInput, ErrWeakPassword, ErrEmailTaken, ErrVerificationPending,
		ErrInvalidCode, ErrInvalidToken, ErrInvalidCredentials, ErrUnauthenticated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
