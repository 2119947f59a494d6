package loginform

import (
	"errors"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
)

var (
	// ErrValidation means the preconditions of a submission were not met.
	// The form stays as it is; its buttons are already disabled.
	ErrValidation = errors.New("loginform: validation failed")
	// ErrPhoneAlreadyUsed is returned when the enforcing phone check finds
	// an earlier submission.
	ErrPhoneAlreadyUsed = fmt.Errorf("%w: phone number already used", ErrValidation)
	// ErrIllegalTransition is a move outside the state table. It is never
	// applied.
	ErrIllegalTransition = errors.New("loginform: illegal state transition")
)

const (
	opSignIn     = "signInWithPhoneNumber"
	opVerifyCode = "checking the verification code"
	opPhoneCheck = "checking the phone number"
)

// CodeRecordsUnavailable is reported when the enforcing phone check cannot
// reach the record store.
const CodeRecordsUnavailable = "records/unavailable"

// ProviderError is a rejected identity provider request. It is shown to the
// user and ends the current attempt.
type ProviderError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func newProviderError(op string, err error) *ProviderError {
	e := identity.AsError(err)
	return &ProviderError{Op: op, Code: e.Code, Message: e.Message, Err: err}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("loginform: %s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AlertText is the message shown to the user.
func (e *ProviderError) AlertText() string {
	prefix := "Error during " + e.Op
	if e.Op == opVerifyCode || e.Op == opPhoneCheck {
		prefix = "Error while " + e.Op
	}
	return prefix + ":\n\n" + e.Code + "\n\n" + e.Message
}
