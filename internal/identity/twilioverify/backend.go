// Package twilioverify sends and checks phone verification codes through
// Twilio Verify v2.
package twilioverify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
)

// API is the part of the Twilio Verify client used by the backend.
type API interface {
	CreateVerification(serviceSid string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error)
	CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error)
}

type Config struct {
	AccountSid string
	AuthToken  string
	ServiceSid string
	Channel    string
}

// Backend implements identity.Backend with Twilio Verify.
type Backend struct {
	api        API
	serviceSid string
	channel    string
	logger     *zap.SugaredLogger
}

// New builds a Backend with a Twilio REST client.
func New(cfg Config, logger *zap.SugaredLogger) (*Backend, error) {
	if cfg.AccountSid == "" || cfg.AuthToken == "" || cfg.ServiceSid == "" {
		return nil, errors.New("twilioverify: account sid, auth token and service sid are required")
	}
	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSid,
		Password: cfg.AuthToken,
	})
	return NewWithAPI(c.VerifyV2, cfg.ServiceSid, cfg.Channel, logger), nil
}

// NewWithAPI builds a Backend on an existing API implementation.
func NewWithAPI(api API, serviceSid, channel string, logger *zap.SugaredLogger) *Backend {
	if channel == "" {
		channel = "sms"
	}
	return &Backend{api: api, serviceSid: serviceSid, channel: channel, logger: logger}
}

// StartVerification sends a code. The ticket is the verification sid.
func (b *Backend) StartVerification(_ context.Context, phone string) (string, error) {
	params := &verify.CreateVerificationParams{}
	params.SetTo(phone)
	params.SetChannel(b.channel)

	resp, err := b.api.CreateVerification(b.serviceSid, params)
	if err != nil {
		return "", mapError(err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	b.logger.Debugw("twilio verification created", "sid", sid)
	return sid, nil
}

// CheckVerification checks code against the pending verification.
func (b *Backend) CheckVerification(_ context.Context, ticket, phone, code string) (bool, error) {
	params := &verify.CreateVerificationCheckParams{}
	if ticket != "" {
		params.SetVerificationSid(ticket)
	} else {
		params.SetTo(phone)
	}
	params.SetCode(code)

	resp, err := b.api.CreateVerificationCheck(b.serviceSid, params)
	if err != nil {
		return false, mapError(err)
	}
	return resp != nil && resp.Status != nil && *resp.Status == "approved", nil
}

// Twilio error codes, see https://www.twilio.com/docs/api/errors.
const (
	twilioNotFound         = 20404
	twilioInvalidPhone     = 21211
	twilioInvalidParameter = 60200
	twilioMaxCheckAttempts = 60202
	twilioMaxSendAttempts  = 60203
)

func mapError(err error) error {
	var te *twclient.TwilioRestError
	if !errors.As(err, &te) {
		return identity.NewError(identity.CodeInternal, "The verification service is unavailable.", err)
	}
	code := identity.CodeInternal
	switch {
	case te.Code == twilioInvalidPhone || te.Code == twilioInvalidParameter:
		code = identity.CodeInvalidPhone
	case te.Code == twilioMaxCheckAttempts || te.Code == twilioMaxSendAttempts || te.Status == http.StatusTooManyRequests:
		code = identity.CodeTooManyRequests
	case te.Code == twilioNotFound || te.Status == http.StatusNotFound:
		code = identity.CodeCodeExpired
	}
	return identity.NewError(code, fmt.Sprintf("%s (twilio %d)", te.Message, te.Code), err)
}
