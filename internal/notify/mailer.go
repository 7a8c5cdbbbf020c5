// Package notify turns notification events into emails and admin alerts.
package notify

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/iliyamo/theater-booking/internal/config"
)

// Attachment is a file sent with a message.
type Attachment struct {
	Name    string
	Content []byte
}

// Message is one outgoing email.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// SMTPMailer sends through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *SMTPMailer) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(buildMessage(s.from, m)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", m.To, err)
	}
	return nil
}

func buildMessage(from string, m Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", from)
	gm.SetHeader("To", m.To)
	gm.SetHeader("Subject", m.Subject)
	gm.SetBody("text/plain", m.Body)
	for _, a := range m.Attachments {
		content := a.Content
		gm.Attach(a.Name,
			gomail.SetHeader(map[string][]string{"Content-Type": {"application/pdf"}}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}))
	}
	return gm
}

// LogMailer writes messages to the log instead of sending them.  It is
// used when SMTP is disabled.
type LogMailer struct {
	Log logrus.FieldLogger
}

func (l LogMailer) Send(_ context.Context, m Message) error {
	names := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		names = append(names, a.Name)
	}
	l.Log.WithFields(logrus.Fields{
		"to":          m.To,
		"subject":     m.Subject,
		"attachments": names,
	}).Info("email (smtp disabled)")
	return nil
}

// NewMailer returns an SMTPMailer when SMTP is enabled and a LogMailer
// otherwise.
func NewMailer(cfg config.SMTPConfig, log logrus.FieldLogger) Mailer {
	if cfg.Enabled {
		return NewSMTPMailer(cfg)
	}
	return LogMailer{Log: log}
}
