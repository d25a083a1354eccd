// Package mail delivers registry notification emails. Delivery is behind
// the Mailer interface so the registry core stays independent of the
// transport.
package mail

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Mailer sends a plain-text email to a single recipient.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer delivers mail through an SMTP relay without authentication.
type SMTPMailer struct {
	Addr string // host:port
	From string
}

// Send implements Mailer.
func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(m.Addr, nil, m.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s via %s: %w", to, m.Addr, err)
	}
	return nil
}

// LogMailer logs mail instead of sending it, for development and tests.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m *LogMailer) Send(to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail delivery suppressed", "to", to, "subject", subject)
	return nil
}
