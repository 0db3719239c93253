package mail

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

var (
	verificationTmpl = template.Must(template.New("verification").Parse(
		`Hello {{.Username}},

Your verification code is: {{.Code}}

The code expires at {{.Expires}}. If you did not sign up, ignore this email.
`))

	resetTmpl = template.Must(template.New("reset").Parse(
		`Hello {{.Username}},

Use the link below to choose a new password:

{{.ResetURL}}

The link expires at {{.Expires}} and works once. If you did not ask for a reset, ignore this email.
`))
)

const (
	verificationSubject = "Verify your email"
	resetSubject        = "Reset your password"
)

func renderVerification(msg VerificationMessage) (string, error) {
	var buf bytes.Buffer
	err := verificationTmpl.Execute(&buf, struct {
		Username, Code, Expires string
	}{msg.Username, msg.Code, formatExpiry(msg.ExpiresAt)})
	if err != nil {
		return "", fmt.Errorf("render verification email: %w", err)
	}
	return buf.String(), nil
}

func renderReset(msg PasswordResetMessage) (string, error) {
	var buf bytes.Buffer
	err := resetTmpl.Execute(&buf, struct {
		Username, ResetURL, Expires string
	}{msg.Username, msg.ResetURL, formatExpiry(msg.ExpiresAt)})
	if err != nil {
		return "", fmt.Errorf("render reset email: %w", err)
	}
	return buf.String(), nil
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "soon"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}
