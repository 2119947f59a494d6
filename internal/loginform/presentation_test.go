package loginform

import (
	"context"
	"testing"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
)

func TestSignInEnabled_AllCombinations(t *testing.T) {
	for _, captchaSolved := range []bool{false, true} {
		for _, phoneValid := range []bool{false, true} {
			for _, signingIn := range []bool{false, true} {
				want := captchaSolved && phoneValid && !signingIn
				if got := SignInEnabled(captchaSolved, phoneValid, signingIn); got != want {
					t.Errorf("SignInEnabled(%v, %v, %v) = %v, want %v", captchaSolved, phoneValid, signingIn, got, want)
				}
			}
		}
	}
}

func TestVerifyEnabled(t *testing.T) {
	tests := []struct {
		entered, verifying, want bool
	}{
		{false, false, false},
		{true, false, true},
		{true, true, false},
		{false, true, false},
	}
	for _, tt := range tests {
		if got := VerifyEnabled(tt.entered, tt.verifying); got != tt.want {
			t.Errorf("VerifyEnabled(%v, %v) = %v, want %v", tt.entered, tt.verifying, got, tt.want)
		}
	}
}

type stubConfirmation struct{}

func (stubConfirmation) Confirm(context.Context, string) (*identity.User, error) { return nil, nil }

func TestDerive_AtMostOneFormVisible(t *testing.T) {
	user := &identity.User{UID: "u1", PhoneNumber: "+64211234567", ProviderID: "phone"}
	sessions := []Session{
		{},
		{Pending: stubConfirmation{}},
		{CurrentUser: user},
		{CurrentUser: user, Pending: stubConfirmation{}},
	}
	for i, s := range sessions {
		p := Derive(Snapshot{Session: s})
		if p.SignInFormVisible && p.VerificationFormVisible {
			t.Errorf("session %d: both forms visible", i)
		}
		wantSignIn := s.CurrentUser == nil && s.Pending == nil
		wantVerify := s.CurrentUser == nil && s.Pending != nil
		if p.SignInFormVisible != wantSignIn || p.VerificationFormVisible != wantVerify {
			t.Errorf("session %d: signIn=%v verify=%v, want %v %v", i, p.SignInFormVisible, p.VerificationFormVisible, wantSignIn, wantVerify)
		}
		if p.SignOutVisible != (s.CurrentUser != nil) {
			t.Errorf("session %d: SignOutVisible = %v", i, p.SignOutVisible)
		}
	}
}

func TestDerive_StatusPanel(t *testing.T) {
	p := Derive(Snapshot{})
	if p.SignInStatus != "Signed out" || p.AccountDetails != "null" {
		t.Errorf("signed out panel = %q / %q", p.SignInStatus, p.AccountDetails)
	}
	p = Derive(Snapshot{State: SignedIn, Session: Session{CurrentUser: &identity.User{UID: "u1", PhoneNumber: "+64211234567"}}})
	if p.SignInStatus != "Signed in" {
		t.Errorf("SignInStatus = %q", p.SignInStatus)
	}
	if p.AccountDetails == "null" || p.State != "signed_in" {
		t.Errorf("AccountDetails = %q, State = %q", p.AccountDetails, p.State)
	}
}

func TestDerive_InFlightFlags(t *testing.T) {
	p := Derive(Snapshot{State: SendingCode, CaptchaSolved: true, PhoneValid: true})
	if p.SignInButtonEnabled {
		t.Error("sign-in button enabled while sending")
	}
	p = Derive(Snapshot{State: VerifyingCode, CodeEntered: true, Session: Session{Pending: stubConfirmation{}}})
	if p.VerifyButtonEnabled {
		t.Error("verify button enabled while verifying")
	}
}

func TestFormURL(t *testing.T) {
	tests := []struct{ base, mobile, code, want string }{
		{DefaultFormURL, "0211234567", "123456", "https://lemont.typeform.com/to/n0tcww?mobile=0211234567&code=123456"},
		{"https://example.com/f?src=sms", "0211234567", "1", "https://example.com/f?src=sms&mobile=0211234567&code=1"},
		{DefaultFormURL, "021 123", "a&b=c", "https://lemont.typeform.com/to/n0tcww?mobile=021 123&code=a&b=c"},
	}
	for _, tt := range tests {
		if got := FormURL(tt.base, tt.mobile, tt.code); got != tt.want {
			t.Errorf("FormURL = %q, want %q", got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	legal := [][2]State{
		{SignedOut, AwaitingCaptcha},
		{AwaitingCaptcha, SendingCode},
		{SendingCode, AwaitingCode},
		{SendingCode, SignedOut},
		{AwaitingCode, VerifyingCode},
		{AwaitingCode, SignedOut},
		{VerifyingCode, SignedIn},
		{VerifyingCode, AwaitingCode},
		{SignedIn, SignedOut},
	}
	for _, tr := range legal {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be legal", tr[0], tr[1])
		}
	}
	illegal := [][2]State{
		{SignedOut, AwaitingCode},
		{AwaitingCaptcha, VerifyingCode},
		{SignedIn, SendingCode},
		{SignedIn, AwaitingCode},
		{SendingCode, VerifyingCode},
	}
	for _, tr := range illegal {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be illegal", tr[0], tr[1])
		}
	}
}

func TestParsePhoneCheck(t *testing.T) {
	tests := map[string]PhoneCheck{"": PhoneCheckOff, "off": PhoneCheckOff, "Advisory": PhoneCheckAdvisory, " enforce ": PhoneCheckEnforce}
	for in, want := range tests {
		got, err := ParsePhoneCheck(in)
		if err != nil || got != want {
			t.Errorf("ParsePhoneCheck(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePhoneCheck("strict"); err == nil {
		t.Error("ParsePhoneCheck(strict) should fail")
	}
}

func TestPhoneCheckString(t *testing.T) {
	for _, p := range []PhoneCheck{PhoneCheckOff, PhoneCheckAdvisory, PhoneCheckEnforce} {
		got, err := ParsePhoneCheck(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePhoneCheck(%q) = %v, %v", p.String(), got, err)
		}
	}
}
