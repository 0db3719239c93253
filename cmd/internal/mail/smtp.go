package mail

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers plain-text mail through an SMTP relay.
type SMTPSender struct {
	addr     string
	host     string
	from     string
	auth     smtp.Auth
	sendMail SendMailFunc
	now      func() time.Time
}

// NewSMTPSender builds a sender from cfg. cfg.SMTPHost and cfg.From are required.
func NewSMTPSender(cfg Config) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.SMTPHost)
	if host == "" {
		return nil, errors.New("mail: smtp host is required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, errors.New("mail: from address is required")
	}
	s := &SMTPSender{
		addr:     net.JoinHostPort(host, strconv.Itoa(cfg.SMTPPort)),
		host:     host,
		from:     from,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
	if cfg.SMTPUser != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, host)
	}
	return s, nil
}

// WithSendMail replaces the transport; used by tests.
func (s *SMTPSender) WithSendMail(fn SendMailFunc) *SMTPSender {
	s.sendMail = fn
	return s
}

func (s *SMTPSender) SendVerificationCode(ctx context.Context, msg VerificationMessage) error {
	body, err := renderVerification(msg)
	if err != nil {
		return err
	}
	return s.send(ctx, msg.To, verificationSubject, body)
}

func (s *SMTPSender) SendPasswordReset(ctx context.Context, msg PasswordResetMessage) error {
	body, err := renderReset(msg)
	if err != nil {
		return err
	}
	return s.send(ctx, msg.To, resetSubject, body)
}

func (s *SMTPSender) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to = strings.TrimSpace(to)
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return errors.New("mail: invalid recipient")
	}

	var b strings.Builder
	b.WriteString("From: " + s.from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + s.now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	if err := s.sendMail(s.addr, s.auth, s.from, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("mail: smtp send: %w", err)
	}
	return nil
}
