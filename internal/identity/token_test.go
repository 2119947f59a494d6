package identity

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ti, err := NewTokenIssuer("secret", "phone-form", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	tok, err := ti.Issue(&User{UID: "uid-1", PhoneNumber: "+64211234567"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := ti.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "uid-1" || claims.PhoneNumber != "+64211234567" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenIssuer_RejectsForeignAndExpired(t *testing.T) {
	a, _ := NewTokenIssuer("secret-a", "phone-form", time.Hour)
	b, _ := NewTokenIssuer("secret-b", "phone-form", time.Hour)
	tok, _ := a.Issue(&User{UID: "uid-1"})
	if _, err := b.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign token err = %v, want ErrInvalidToken", err)
	}

	now := time.Now()
	a.nowF = func() time.Time { return now }
	tok, _ = a.Issue(&User{UID: "uid-1"})
	a.nowF = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := a.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token err = %v, want ErrInvalidToken", err)
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}
	e := NewError(CodeInvalidCode, "bad", nil)
	if AsError(e) != e {
		t.Error("AsError should return an *Error unchanged")
	}
	if got := AsError(errors.New("x")); got.Code != CodeInternal {
		t.Errorf("code = %s, want %s", got.Code, CodeInternal)
	}
}
