package mail

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Driver names.
const (
	DriverSMTP = "smtp"
	DriverLog  = "log"
	DriverNoop = "noop"
)

// Config selects and configures the mail driver.
type Config struct {
	Driver       string `env:"LATCH_MAIL_DRIVER"       envDefault:"log"`
	From         string `env:"LATCH_MAIL_FROM"         envDefault:"latch <no-reply@localhost>"`
	SMTPHost     string `env:"LATCH_SMTP_HOST"`
	SMTPPort     int    `env:"LATCH_SMTP_PORT"         envDefault:"587"`
	SMTPUser     string `env:"LATCH_SMTP_USER"`
	SMTPPassword string `env:"LATCH_SMTP_PASSWORD"`

	// LogSecrets makes the log driver print codes and reset links. Development only.
	LogSecrets bool `env:"LATCH_MAIL_LOG_SECRETS" envDefault:"false"`
}

// LoadConfigFromEnv parses mail configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse mail env: %w", err)
	}
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	return cfg, nil
}

// NewSender builds the Sender selected by cfg.Driver.
func NewSender(cfg Config, log *slog.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSMTP:
		return NewSMTPSender(cfg)
	case DriverLog, "":
		return NewLogSender(log, cfg.LogSecrets), nil
	case DriverNoop:
		return NoopSender{}, nil
	default:
		return nil, fmt.Errorf("mail: unknown driver %q", cfg.Driver)
	}
}
