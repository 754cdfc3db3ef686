package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures the process logger
type Config struct {
	Level   string
	Format  string
	Service string
	Output  io.Writer
}

// New builds a logrus logger. Unknown levels fall back to info.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	if cfg.Service != "" {
		logger.AddHook(serviceHook(cfg.Service))
	}
	return logger
}

// Discard returns a logger that drops everything; handy in tests
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type serviceHook string

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = string(h)
	}
	return nil
}

// AuthEvent logs an authentication event; failures go out at warn level
func AuthEvent(log logrus.FieldLogger, event string, success bool, fields logrus.Fields) {
	entry := log.WithFields(fields).WithFields(logrus.Fields{
		"event_type": "auth",
		"auth_event": event,
		"success":    success,
	})
	if success {
		entry.Info("auth event: " + event)
		return
	}
	entry.Warn("auth event failed: " + event)
}

// SecurityEvent logs a security-relevant event such as refresh-token reuse
func SecurityEvent(log logrus.FieldLogger, event string, fields logrus.Fields) {
	log.WithFields(fields).WithFields(logrus.Fields{
		"event_type":     "security",
		"security_event": event,
	}).Warn("security event: " + event)
}

// MaskEmail keeps the first two characters of the local part (e.g. jo***@example.com)
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "****"
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + domain
	}
	return local[:2] + "***" + domain
}
