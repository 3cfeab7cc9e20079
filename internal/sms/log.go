package sms

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes messages to the log instead of delivering them. It is meant
// for local development where no SMS provider is configured.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, body string) error {
	s.logger.WithFields(logrus.Fields{
		"phone": to,
		"body":  body,
	}).Info("SMS logged (development sender)")
	return nil
}
