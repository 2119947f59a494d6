package loginform

import (
	"encoding/json"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
)

// Session is what the provider knows about the browser: the signed-in user
// and the pending confirmation handle.
type Session struct {
	CurrentUser *identity.User
	Pending     identity.Confirmation
}

// Snapshot is everything the presentation is derived from.
type Snapshot struct {
	Session       Session
	State         State
	CaptchaSolved bool
	PhoneValid    bool
	CodeEntered   bool
	WidgetID      string
	FormURL       string
}

// Presentation is the rendered state of the page.
type Presentation struct {
	State                   string `json:"state"`
	SignInFormVisible       bool   `json:"signInFormVisible"`
	VerificationFormVisible bool   `json:"verificationFormVisible"`
	SignOutVisible          bool   `json:"signOutVisible"`
	SignInButtonEnabled     bool   `json:"signInButtonEnabled"`
	VerifyButtonEnabled     bool   `json:"verifyButtonEnabled"`
	SignInStatus            string `json:"signInStatus"`
	AccountDetails          string `json:"accountDetails"`
	CaptchaWidgetID         string `json:"captchaWidgetId,omitempty"`
	FormURL                 string `json:"formUrl,omitempty"`
}

// SignInEnabled is the sign-in button rule.
func SignInEnabled(captchaSolved, phoneValid, signingIn bool) bool {
	return captchaSolved && phoneValid && !signingIn
}

// VerifyEnabled is the verify-code button rule.
func VerifyEnabled(codeEntered, verifyingCode bool) bool {
	return codeEntered && !verifyingCode
}

// Derive computes the presentation. Form visibility depends only on the
// session.
func Derive(s Snapshot) Presentation {
	user := s.Session.CurrentUser
	pending := s.Session.Pending != nil
	p := Presentation{
		State:                   s.State.String(),
		SignInFormVisible:       user == nil && !pending,
		VerificationFormVisible: user == nil && pending,
		SignOutVisible:          user != nil,
		SignInButtonEnabled:     SignInEnabled(s.CaptchaSolved, s.PhoneValid, s.State.signingIn()),
		VerifyButtonEnabled:     VerifyEnabled(s.CodeEntered, s.State.verifyingCode()),
		SignInStatus:            "Signed out",
		AccountDetails:          "null",
		CaptchaWidgetID:         s.WidgetID,
		FormURL:                 s.FormURL,
	}
	if user != nil {
		p.SignInStatus = "Signed in"
		if raw, err := json.MarshalIndent(user, "", "  "); err == nil {
			p.AccountDetails = string(raw)
		}
	}
	return p
}
