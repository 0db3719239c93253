package authapi

import "time"

type signUpRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email"    validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type verifyEmailRequest struct {
	VerificationCode string `json:"verificationCode" validate:"required,len=6,numeric"`
}

// signInRequest skips the email format check so malformed and unknown emails get the same 401.
type signInRequest struct {
	Email    string `json:"email"    validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"newPassword" validate:"required,max=256"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type signUpResponse struct {
	Message   string    `json:"message"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type signInResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

type meResponse struct {
	User userResponse `json:"user"`
}
