// Package config reads the service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/loginform"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/phone"
)

const (
	BackendOTP    = "otp"
	BackendTwilio = "twilio"
)

type Config struct {
	HTTPAddr    string
	CountryCode string
	FormURL     string
	PhoneCheck  loginform.PhoneCheck

	IdentityBackend  string
	TwilioAccountSid string
	TwilioAuthToken  string
	TwilioServiceSid string
	TwilioFrom       string

	RecaptchaSiteKey string
	RecaptchaSecret  string
	CaptchaDisabled  bool

	RedisAddr     string
	RedisPassword string
	RateLimit     int
	RateWindow    time.Duration
	// TrustProxy reads client addresses from X-Forwarded-For. Set it only
	// when the service sits behind a proxy that writes that header.
	TrustProxy bool

	IDTokenSecret string
	IDTokenTTL    time.Duration
	SessionTTL    time.Duration
}

// FromEnv reads the configuration. Unset variables fall back to defaults;
// malformed ones are errors.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:         getenv("HTTP_ADDR", "0.0.0.0:8431"),
		CountryCode:      getenv("PHONE_COUNTRY_CODE", phone.DefaultCountryCode),
		FormURL:          getenv("FORM_URL", loginform.DefaultFormURL),
		IdentityBackend:  strings.ToLower(getenv("IDENTITY_BACKEND", BackendOTP)),
		TwilioAccountSid: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioServiceSid: os.Getenv("TWILIO_VERIFY_SERVICE_SID"),
		TwilioFrom:       os.Getenv("TWILIO_FROM"),
		RecaptchaSiteKey: os.Getenv("RECAPTCHA_SITE_KEY"),
		RecaptchaSecret:  os.Getenv("RECAPTCHA_SECRET"),
		CaptchaDisabled:  os.Getenv("CAPTCHA_DISABLED") == "1",
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		TrustProxy:       os.Getenv("TRUST_PROXY") == "1",
		IDTokenSecret:    os.Getenv("ID_TOKEN_SECRET"),
	}

	var err error
	if cfg.PhoneCheck, err = loginform.ParsePhoneCheck(os.Getenv("PHONE_CHECK")); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit, err = getInt("RATE_LIMIT", 10); err != nil {
		return Config{}, err
	}
	if cfg.RateWindow, err = getDuration("RATE_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.IDTokenTTL, err = getDuration("ID_TOKEN_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.IdentityBackend {
	case BackendOTP:
	case BackendTwilio:
		if c.TwilioAccountSid == "" || c.TwilioAuthToken == "" || c.TwilioServiceSid == "" {
			return fmt.Errorf("IDENTITY_BACKEND=twilio needs TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VERIFY_SERVICE_SID")
		}
	default:
		return fmt.Errorf("unknown IDENTITY_BACKEND %q", c.IdentityBackend)
	}
	if !c.CaptchaDisabled && (c.RecaptchaSecret == "" || c.RecaptchaSiteKey == "") {
		return fmt.Errorf("RECAPTCHA_SITE_KEY and RECAPTCHA_SECRET are required unless CAPTCHA_DISABLED=1")
	}
	if !strings.HasPrefix(c.CountryCode, "+") {
		return fmt.Errorf("PHONE_COUNTRY_CODE must start with +, got %q", c.CountryCode)
	}
	return nil
}

// SMSEnabled reports whether the otp backend can send real messages.
func (c Config) SMSEnabled() bool {
	return c.TwilioAccountSid != "" && c.TwilioAuthToken != "" && c.TwilioFrom != ""
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
