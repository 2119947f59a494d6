package identity

import (
	"errors"
	"fmt"
)

// Error codes reported by the identity adapters.
const (
	CodeMissingCaptcha   = "auth/missing-app-credential"
	CodeCaptchaFailed    = "auth/captcha-check-failed"
	CodeInvalidPhone     = "auth/invalid-phone-number"
	CodeTooManyRequests  = "auth/too-many-requests"
	CodeInvalidCode      = "auth/invalid-verification-code"
	CodeCodeExpired      = "auth/code-expired"
	CodeInternal         = "auth/internal-error"
	CodeProviderDisabled = "auth/operation-not-allowed"
)

// Error is a rejected provider request. Code is stable and machine
// readable, Message is meant for the user.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error.
func NewError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// AsError returns err as an *Error, wrapping unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: "An internal error has occurred.", Err: err}
}
