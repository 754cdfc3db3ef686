package mail

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/model"
)

// LogSender writes deliveries to the log instead of sending them. The
// plaintext code is included only in dev mode.
type LogSender struct {
	log     logrus.FieldLogger
	devMode bool
}

// NewLogSender creates a log-only sender
func NewLogSender(log logrus.FieldLogger, devMode bool) *LogSender {
	return &LogSender{log: log.WithField("component", "mail"), devMode: devMode}
}

func (s *LogSender) Send(_ context.Context, to string, purpose model.CodePurpose, code string) error {
	entry := s.log.WithFields(logrus.Fields{
		"to":      logging.MaskEmail(to),
		"purpose": purpose,
	})
	if s.devMode {
		entry = entry.WithField("code", code)
	}
	entry.Info("email delivery skipped (no SMTP host configured)")
	return nil
}
