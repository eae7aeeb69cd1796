package utils

import (
	"fmt"
	"log"

	"gopkg.in/gomail.v2"
)

// Mailer sends account notifications.
type Mailer interface {
	SendWelcome(email, username string) error
}

// SMTPMailer delivers mail through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer returns an SMTP mailer, or a mailer that only logs when host is empty.
func NewMailer(host string, port int, user, pass string) Mailer {
	if host == "" {
		return logMailer{}
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   user,
	}
}

func (m *SMTPMailer) SendWelcome(email, username string) error {
	if email == "" {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", "Welcome to the community")
	msg.SetBody("text/plain", fmt.Sprintf("Hi %s, your account is ready. Go share your best joke.", username))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send welcome mail: %w", err)
	}
	return nil
}

type logMailer struct{}

func (logMailer) SendWelcome(email, username string) error {
	log.Printf("Mail disabled, skipping welcome mail for %s", username)
	return nil
}
