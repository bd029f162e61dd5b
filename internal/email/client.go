package email

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"wakeline/internal/config"
)

// Mailer is the part of gomail.Dialer the service needs.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailService struct {
	fromName  string
	fromEmail string
	mailer    Mailer
}

// NewEmailService builds an SMTP-backed service from config.
func NewEmailService(cfg *config.Config) (*EmailService, error) {
	if cfg.SMTPUsername == "" || cfg.SMTPPassword == "" {
		return nil, fmt.Errorf("SMTP credentials not configured")
	}

	dialer := gomail.NewDialer(
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPUsername,
		cfg.SMTPPassword,
	)

	return NewWithMailer(cfg.SMTPFromName, cfg.SMTPFromEmail, dialer), nil
}

func NewWithMailer(fromName, fromEmail string, mailer Mailer) *EmailService {
	return &EmailService{fromName: fromName, fromEmail: fromEmail, mailer: mailer}
}

// SendEmail sends one HTML message.
func (s *EmailService) SendEmail(to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.fromEmail, s.fromName))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}
