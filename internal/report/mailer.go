package report

import (
	"context"
	"log"

	"gopkg.in/gomail.v2"
)

type Mailer interface {
	Send(ctx context.Context, to string, subject string, htmlBody string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to string, subject string, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		log.Printf("[mailer] send to %s failed: %v", to, err)
		return err
	}
	return nil
}

// LogMailer only logs deliveries. Used when SMTP is not configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to string, subject string, htmlBody string) error {
	log.Printf("[mailer] SMTP not configured, would send %q to %s (%d bytes)", subject, to, len(htmlBody))
	return nil
}
