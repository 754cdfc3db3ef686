// Package mail delivers one-time codes by email.
package mail

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/config"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/model"
	"gopkg.in/gomail.v2"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends HTML code emails through an SMTP relay
type SMTPSender struct {
	dialer   dialer
	from     string
	fromName string
	renderer Renderer
	log      logrus.FieldLogger
}

// NewSMTPSender creates an SMTP sender from configuration
func NewSMTPSender(cfg config.SMTPConfig, renderer Renderer, log logrus.FieldLogger) *SMTPSender {
	return &SMTPSender{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:     cfg.From,
		fromName: cfg.FromName,
		renderer: renderer,
		log:      log.WithField("component", "mail"),
	}
}

// Send renders and delivers the code. gomail has no context support, so ctx
// is only checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, to string, purpose model.CodePurpose, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body, err := s.renderer.Render(purpose, code)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send %s email: %w", purpose, err)
	}

	s.log.WithFields(logrus.Fields{
		"to":      logging.MaskEmail(to),
		"purpose": purpose,
	}).Info("email sent")
	return nil
}
