package otp

import (
	"context"
	"errors"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Sender delivers the message carrying a code.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// LogSender writes messages to the log instead of sending them. Development only.
type LogSender struct {
	logger *zap.SugaredLogger
}

func NewLogSender(logger *zap.SugaredLogger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, body string) error {
	s.logger.Infow("sms (not sent)", "to", to, "body", body)
	return nil
}

// MessagesAPI is the part of the Twilio REST API used to send SMS.
type MessagesAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender sends SMS through the Twilio Messaging API.
type TwilioSender struct {
	api  MessagesAPI
	from string
}

// NewTwilioSender builds a sender with a Twilio REST client.
func NewTwilioSender(accountSid, authToken, from string) (*TwilioSender, error) {
	if accountSid == "" || authToken == "" || from == "" {
		return nil, errors.New("otp: twilio account sid, auth token and sender number are required")
	}
	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	return &TwilioSender{api: c.Api, from: from}, nil
}

func (s *TwilioSender) Send(_ context.Context, to, body string) error {
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)
	_, err := s.api.CreateMessage(params)
	return err
}
