package notify

import (
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// SMTPConfig holds the outgoing mail settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// EmailNotifier sends notifications to the contract's customer email.
type EmailNotifier struct {
	cfg    SMTPConfig
	logger *logrus.Logger
	send   func(e *email.Email) error
}

// NewEmailNotifier creates a new email notifier.
func NewEmailNotifier(cfg SMTPConfig, logger *logrus.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	n.send = n.sendSMTP
	return n
}

func (s *EmailNotifier) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	return e.Send(addr, auth)
}

// Notify emails the customer. Contracts without an address are skipped.
func (s *EmailNotifier) Notify(n Notification) error {
	if n.Contract == nil || n.Contract.CustomerEmail == "" {
		s.logger.WithFields(fields(n)).Debug("No customer email, notification skipped")
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = []string{n.Contract.CustomerEmail}
	e.Subject = Subject(n)
	e.Text = []byte(Body(n))

	if err := s.send(e); err != nil {
		s.logger.WithFields(fields(n)).Errorf("Failed to send email to %s: %v", n.Contract.CustomerEmail, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.WithFields(fields(n)).Infof("Email sent to %s: %s", n.Contract.CustomerEmail, e.Subject)
	return nil
}
