package sms

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MessageCreator is the part of the Twilio REST API used to send messages.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender sends messages through the Twilio Programmable Messaging API.
type TwilioSender struct {
	api    MessageCreator
	from   string
	logger *logrus.Logger
}

func NewTwilioSender(accountSID, authToken, from string, logger *logrus.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return NewTwilioSenderWithAPI(client.Api, from, logger)
}

func NewTwilioSenderWithAPI(api MessageCreator, from string, logger *logrus.Logger) *TwilioSender {
	return &TwilioSender{
		api:    api,
		from:   from,
		logger: logger,
	}
}

// Send creates one outbound message. The Twilio client has no per-call
// context, so ctx is only checked before the request is issued.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		s.logger.WithError(err).WithField("phone", to).Error("Twilio rejected message")
		return fmt.Errorf("twilio: %w", err)
	}

	entry := s.logger.WithField("phone", to)
	if resp != nil && resp.Sid != nil {
		entry = entry.WithField("sid", *resp.Sid)
	}
	entry.Info("SMS sent")

	return nil
}
