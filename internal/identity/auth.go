// Package identity provides the phone identity provider used by the sign-in
// form: per-browser auth state on top of a shared verification backend.
package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/captcha"
)

// Backend sends verification codes and checks them. Implementations are
// shared by all browser sessions.
type Backend interface {
	// StartVerification sends a code to phone (international form) and
	// returns an opaque ticket for the pending attempt.
	StartVerification(ctx context.Context, phone string) (ticket string, err error)
	// CheckVerification reports whether code approves the attempt.
	CheckVerification(ctx context.Context, ticket, phone, code string) (bool, error)
}

// Confirmation is a pending phone verification. It is consumed by the first
// successful Confirm.
type Confirmation interface {
	Confirm(ctx context.Context, code string) (*User, error)
}

// phone user ids are stable per number.
var uidNamespace = uuid.MustParse("6f2a3c1e-5b7d-4e59-9a0c-2d8b1f4e7a63")

// Auth is the identity provider for one browser session.
type Auth struct {
	backend  Backend
	verifier captcha.Verifier
	tokens   *TokenIssuer
	logger   *zap.SugaredLogger
	remoteIP string
	nowF     func() time.Time

	mu      sync.Mutex
	user    *User
	subs    map[int]func(*User)
	nextSub int
}

// NewAuth builds the provider for one browser session. remoteIP is passed to
// the captcha verifier.
func NewAuth(backend Backend, verifier captcha.Verifier, tokens *TokenIssuer, remoteIP string, logger *zap.SugaredLogger) *Auth {
	return &Auth{
		backend:  backend,
		verifier: verifier,
		tokens:   tokens,
		logger:   logger,
		remoteIP: remoteIP,
		nowF:     time.Now,
		subs:     make(map[int]func(*User)),
	}
}

// CurrentUser returns the signed-in user or nil.
func (a *Auth) CurrentUser() *User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

// RemoteIP is the browser address sent along with captcha checks.
func (a *Auth) RemoteIP() string {
	return a.remoteIP
}

// OnAuthStateChanged registers fn. It is called at once with the current
// user and then after every sign-in or sign-out.
func (a *Auth) OnAuthStateChanged(fn func(*User)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	u := a.user
	a.mu.Unlock()

	fn(u)
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// SignOut drops the current user.
func (a *Auth) SignOut(_ context.Context) error {
	a.setUser(nil)
	return nil
}

func (a *Auth) setUser(u *User) {
	a.mu.Lock()
	changed := a.user != u
	a.user = u
	fns := make([]func(*User), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range fns {
		fn(u)
	}
}

// SignInWithPhoneNumber checks the captcha proof and asks the backend to
// send a code to phoneNumber.
func (a *Auth) SignInWithPhoneNumber(ctx context.Context, phoneNumber, captchaProof string) (Confirmation, error) {
	if captchaProof == "" {
		return nil, NewError(CodeMissingCaptcha, "The reCAPTCHA token is missing.", nil)
	}
	ok, err := a.verifier.Verify(ctx, captchaProof, a.remoteIP)
	if err != nil {
		return nil, NewError(CodeCaptchaFailed, "The reCAPTCHA response could not be checked.", err)
	}
	if !ok {
		return nil, NewError(CodeCaptchaFailed, "The reCAPTCHA response is invalid or has expired.", nil)
	}
	ticket, err := a.backend.StartVerification(ctx, phoneNumber)
	if err != nil {
		return nil, AsError(err)
	}
	a.logger.Debugw("verification code sent", "phone", phoneNumber)
	return &confirmation{auth: a, phone: phoneNumber, ticket: ticket}, nil
}

type confirmation struct {
	auth   *Auth
	phone  string
	ticket string

	mu   sync.Mutex
	used bool
}

func (c *confirmation) Confirm(ctx context.Context, code string) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used {
		return nil, NewError(CodeCodeExpired, "This verification has already been used.", nil)
	}
	ok, err := c.auth.backend.CheckVerification(ctx, c.ticket, c.phone, code)
	if err != nil {
		return nil, AsError(err)
	}
	if !ok {
		return nil, NewError(CodeInvalidCode, "The verification code is invalid.", nil)
	}
	c.used = true

	u := &User{
		UID:         uuid.NewSHA1(uidNamespace, []byte(c.phone)).String(),
		PhoneNumber: c.phone,
		ProviderID:  "phone",
		CreatedAt:   c.auth.nowF().UTC(),
	}
	if c.auth.tokens != nil {
		tok, err := c.auth.tokens.Issue(u)
		if err != nil {
			return nil, NewError(CodeInternal, "Could not issue an ID token.", err)
		}
		u.IDToken = tok
	}
	c.auth.setUser(u)
	return u, nil
}
