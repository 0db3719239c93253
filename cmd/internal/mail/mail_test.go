package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingSender(t *testing.T, out *capturedMail, sendErr error) *SMTPSender {
	t.Helper()
	s, err := NewSMTPSender(Config{SMTPHost: "smtp.example.com", SMTPPort: 2525, From: "latch <no-reply@example.com>"})
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s.WithSendMail(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		out.addr, out.from, out.to, out.msg = addr, from, to, string(msg)
		return sendErr
	})
}

func TestSMTPSender_VerificationCode(t *testing.T) {
	var got capturedMail
	s := newCapturingSender(t, &got, nil)

	err := s.SendVerificationCode(context.Background(), VerificationMessage{
		To:        "ada@example.com",
		Username:  "Ada",
		Code:      "482913",
		ExpiresAt: time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SendVerificationCode: %v", err)
	}
	if got.addr != "smtp.example.com:2525" {
		t.Fatalf("addr=%q", got.addr)
	}
	if len(got.to) != 1 || got.to[0] != "ada@example.com" {
		t.Fatalf("to=%v", got.to)
	}
	for _, want := range []string{"Subject: Verify your email", "482913", "Hello Ada", "\r\n\r\n", "2026-01-01 00:15 UTC"} {
		if !strings.Contains(got.msg, want) {
			t.Errorf("message missing %q:\n%s", want, got.msg)
		}
	}
}

func TestSMTPSender_PasswordReset(t *testing.T) {
	var got capturedMail
	s := newCapturingSender(t, &got, nil)

	link := "https://app.example.com/sign-in/reset-password/abc123"
	if err := s.SendPasswordReset(context.Background(), PasswordResetMessage{To: "ada@example.com", ResetURL: link}); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if !strings.Contains(got.msg, link) || !strings.Contains(got.msg, "Subject: Reset your password") {
		t.Fatalf("unexpected message:\n%s", got.msg)
	}
}

func TestSMTPSender_RejectsHeaderInjection(t *testing.T) {
	var got capturedMail
	s := newCapturingSender(t, &got, nil)

	err := s.SendVerificationCode(context.Background(), VerificationMessage{To: "a@example.com\r\nBcc: x@evil.test", Code: "123456"})
	if err == nil {
		t.Fatalf("expected error for recipient with CRLF")
	}
	if got.msg != "" {
		t.Fatalf("nothing must be sent")
	}
}

func TestSMTPSender_WrapsTransportError(t *testing.T) {
	var got capturedMail
	boom := errors.New("relay down")
	s := newCapturingSender(t, &got, boom)

	err := s.SendPasswordReset(context.Background(), PasswordResetMessage{To: "a@example.com", ResetURL: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestLogSender_HidesSecretsByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	_ = NewLogSender(log, false).SendVerificationCode(context.Background(), VerificationMessage{To: "a@example.com", Code: "654321"})
	if strings.Contains(buf.String(), "654321") {
		t.Fatalf("code leaked into logs: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "mail.verification_code") {
		t.Fatalf("expected event name in logs: %s", buf.String())
	}

	buf.Reset()
	_ = NewLogSender(log, true).SendVerificationCode(context.Background(), VerificationMessage{To: "a@example.com", Code: "654321"})
	if !strings.Contains(buf.String(), "654321") {
		t.Fatalf("expected code with revealSecrets: %s", buf.String())
	}
}

func TestNewSender_Drivers(t *testing.T) {
	cases := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{Driver: "noop"}, false},
		{Config{Driver: "LOG"}, false},
		{Config{Driver: "smtp"}, true},
		{Config{Driver: "smtp", SMTPHost: "localhost", SMTPPort: 25, From: "a@b.c"}, false},
		{Config{Driver: "carrier-pigeon"}, true},
	}
	for _, tc := range cases {
		_, err := NewSender(tc.cfg, nil)
		if (err != nil) != tc.wantErr {
			t.Errorf("NewSender(%+v) err=%v wantErr=%v", tc.cfg, err, tc.wantErr)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LATCH_MAIL_DRIVER", " SMTP ")
	t.Setenv("LATCH_SMTP_HOST", "mx.example.com")
	t.Setenv("LATCH_SMTP_PORT", "465")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Driver != DriverSMTP || cfg.SMTPHost != "mx.example.com" || cfg.SMTPPort != 465 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("LATCH_SMTP_PORT", "not-a-port")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatalf("expected parse error for bad port")
	}
}
