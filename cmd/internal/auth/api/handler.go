package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"latch/cmd/identity"
	"latch/cmd/internal/account"
	"latch/cmd/internal/metrics"
	"latch/cmd/security/password"
)

// Route paths.
const (
	PathSignUp            = "/api/auth/sign-up"
	PathSendVerification  = "/api/auth/send-email-verification"
	PathVerifyEmail       = "/api/auth/verify-email"
	PathSignIn            = "/api/auth/sign-in"
	PathForgotPassword    = "/api/auth/forgot-password"
	PathResetPasswordBase = "/api/auth/reset-password/"
	PathMe                = "/api/auth/me"
)

// Client-facing confirmation messages. The resend and forgot-password messages are identical
// whether or not the email is known.
const (
	msgSignUp       = "verification code sent; check your email"
	msgResend       = "if a verification is pending for this email, a new code has been sent"
	msgVerified     = "email verified; you can now sign in"
	msgForgot       = "if an account exists for this email, a password reset link has been sent"
	msgResetDone    = "password updated; you can now sign in"
	tokenTypeBearer = "Bearer"
)

// Handler wires the account service to HTTP.
type Handler struct {
	log *slog.Logger
	cfg Config

	accounts *account.Service
	metrics  *metrics.Registry
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithMetrics records audit events on m.
func WithMetrics(m *metrics.Registry) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.metrics = m
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, accounts *account.Service, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if accounts == nil {
		return nil, errors.New("auth: nil account service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		accounts: accounts,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc(PathSignUp, h.handleSignUp)
	mux.HandleFunc(PathSendVerification, h.handleSendVerification)
	mux.HandleFunc(PathVerifyEmail, h.handleVerifyEmail)
	mux.HandleFunc(PathSignIn, h.handleSignIn)
	mux.HandleFunc(PathForgotPassword, h.handleForgotPassword)
	mux.HandleFunc(PathResetPasswordBase+"{token}", h.handleResetPassword)
	mux.HandleFunc(PathMe, h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	const event = "auth.signup"
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req signUpRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	res, err := h.accounts.SignUp(r.Context(), account.SignUpInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	emailNorm := identity.NormalizeEmail(req.Email)
	if err != nil {
		h.audit(r, event, resultFail, "email", emailNorm, "reason", reason(err))
		h.writeAccountError(r.Context(), w, event, err)
		return
	}

	h.audit(r, event, resultSuccess, "email", emailNorm)
	writeJSON(w, http.StatusCreated, signUpResponse{
		Message:   msgSignUp,
		Email:     res.Email,
		ExpiresAt: res.ExpiresAt,
	})
}

func (h *Handler) handleSendVerification(w http.ResponseWriter, r *http.Request) {
	const event = "auth.verification.resend"
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req emailRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	emailNorm := identity.NormalizeEmail(req.Email)
	if err := h.accounts.ResendVerification(r.Context(), req.Email); err != nil {
		h.audit(r, event, resultFail, "email", emailNorm, "reason", reason(err))
		h.writeAccountError(r.Context(), w, event, err)
		return
	}

	h.audit(r, event, resultSuccess, "email", emailNorm)
	writeJSON(w, http.StatusAccepted, messageResponse{Message: msgResend})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	const event = "auth.verify_email"
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req verifyEmailRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	u, err := h.accounts.VerifyEmail(r.Context(), req.VerificationCode)
	if err != nil {
		h.audit(r, event, resultFail, "reason", reason(err))
		h.writeAccountError(r.Context(), w, event, err)
		return
	}

	h.audit(r, event, resultSuccess, "user_id", u.ID)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgVerified})
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	const event = "auth.signin"
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req signInRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	emailNorm := identity.NormalizeEmail(req.Email)
	res, err := h.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.audit(r, event, resultFail, "email", emailNorm, "reason", reason(err))
		h.writeAccountError(r.Context(), w, event, err)
		return
	}

	h.audit(r, event, resultSuccess, "user_id", res.User.ID)
	writeJSON(w, http.StatusOK, signInResponse{
		Token:     res.Token,
		TokenType: tokenTypeBearer,
		ExpiresAt: res.ExpiresAt,
		User:      toUserResponse(res.User),
	})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	const event = "auth.forgot_password"
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req emailRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	emailNorm := identity.NormalizeEmail(req.Email)
	if err := h.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		h.audit(r, event, resultFail, "email", emailNorm, "reason", reason(err))
		h.writeAccountError(r.Context(), w, event, err)
		return
	}

	h.audit(r, event, resultSuccess, "email", emailNorm)
	writeJSON(w, http.StatusAccepted, messageResponse{Message: msgForgot})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	const event = "auth.reset_password"
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w, http.MethodPut)
		return
	}

	var req resetPasswordRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	u, err := h.accounts.ResetPassword(r.Context(), r.PathValue("token"), req.NewPassword)
	if err != nil {
		h.audit(r, event, resultFail, "reason", reason(err))
		h.writeAccountError(r.Context(), w, event, err)
		return
	}

	h.audit(r, event, resultSuccess, "user_id", u.ID)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetDone})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.accounts.Me(r.Context(), userID)
	if err != nil {
		h.writeAccountError(r.Context(), w, "auth.me", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	claims, err := h.accounts.Authenticate(r.Context(), raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return "", false
	}
	return claims.UserID, true
}

// writeAccountError maps account errors to HTTP responses. Unexpected errors are logged and
// answered with a generic 500.
func (h *Handler) writeAccountError(ctx context.Context, w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, account.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", weakPasswordMessage(err))
	case errors.Is(err, account.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, account.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_exists", "an account with this email already exists")
	case errors.Is(err, account.ErrVerificationPending):
		writeError(w, http.StatusConflict, "verification_pending", "a verification is already pending for this email")
	case errors.Is(err, account.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid_code", "invalid or expired verification code")
	case errors.Is(err, account.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "invalid_token", "invalid or expired reset token")
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, account.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
	case errors.Is(err, account.ErrMailDelivery):
		writeError(w, http.StatusServiceUnavailable, "mail_unavailable", "could not send email; please retry later")
	case errors.Is(err, account.ErrCodeSpaceExhausted):
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// Client went away; nobody reads the response.
	default:
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func weakPasswordMessage(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "password is too short"
	case errors.Is(err, password.ErrPasswordTooLong):
		return "password is too long"
	default:
		return "password is too weak"
	}
}

// reason is the short audit label for a failed operation.
func reason(err error) string {
	switch {
	case errors.Is(err, account.ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, account.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, account.ErrEmailTaken):
		return "email_exists"
	case errors.Is(err, account.ErrVerificationPending):
		return "verification_pending"
	case errors.Is(err, account.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, account.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, account.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, account.ErrMailDelivery):
		return "mail_failed"
	default:
		return "error"
	}
}
