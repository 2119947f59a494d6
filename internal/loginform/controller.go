// Package loginform drives the phone sign-in form: it reacts to the
// browser's events, calls the identity provider and derives what the page
// shows from the session.
package loginform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/captcha"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/phone"
)

// IdentityProvider is the phone authentication service.
type IdentityProvider interface {
	SignOut(ctx context.Context) error
	OnAuthStateChanged(fn func(*identity.User)) (unsubscribe func())
	CurrentUser() *identity.User
	SignInWithPhoneNumber(ctx context.Context, phoneNumber, captchaProof string) (identity.Confirmation, error)
}

// CaptchaWidget is the CAPTCHA attached to the sign-in form.
type CaptchaWidget interface {
	Render(ctx context.Context, cb captcha.Callbacks) (widgetID string, err error)
	Response(widgetID string) string
	Reset(widgetID string)
}

// RecordStore keeps the phone numbers that went through the form.
type RecordStore interface {
	CountByPhone(ctx context.Context, phone string) (int, error)
	RecordSignIn(ctx context.Context, phone, uid string) error
}

// View is the page. Inputs are read on every use and never cached. View
// methods are called with the controller locked and must not call back
// into it.
type View interface {
	PhoneNumber() string
	VerificationCode() string
	Alert(msg string)
	Navigate(url string)
	Render(p Presentation)
}

// PhoneCheck selects how the record store is consulted before sign-in.
type PhoneCheck int

const (
	PhoneCheckOff PhoneCheck = iota
	// PhoneCheckAdvisory runs the lookup alongside the sign-in request and
	// only logs a hit.
	PhoneCheckAdvisory
	// PhoneCheckEnforce waits for the lookup and refuses used numbers.
	PhoneCheckEnforce
)

// ParsePhoneCheck parses "off", "advisory" or "enforce".
func ParsePhoneCheck(s string) (PhoneCheck, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return PhoneCheckOff, nil
	case "advisory":
		return PhoneCheckAdvisory, nil
	case "enforce":
		return PhoneCheckEnforce, nil
	}
	return PhoneCheckOff, fmt.Errorf("unknown phone check mode %q", s)
}

func (p PhoneCheck) String() string {
	switch p {
	case PhoneCheckAdvisory:
		return "advisory"
	case PhoneCheckEnforce:
		return "enforce"
	}
	return "off"
}

type Options struct {
	CountryCode string
	FormURL     string
	PhoneCheck  PhoneCheck
	// CheckTimeout bounds the advisory lookup.
	CheckTimeout time.Duration
}

type Deps struct {
	Identity IdentityProvider
	Captcha  CaptchaWidget
	// Records is optional.
	Records RecordStore
	View    View
	Logger  *zap.SugaredLogger
}

// Controller is the login form of one browser. Its methods may be called
// from any goroutine; state changes are serialised.
type Controller struct {
	id      IdentityProvider
	captcha CaptchaWidget
	records RecordStore
	view    View
	logger  *zap.SugaredLogger
	opts    Options

	mu          sync.Mutex
	state       State
	pending     identity.Confirmation
	attempt     uint64
	widgetID    string
	formURL     string
	unsubscribe func()

	checks sync.WaitGroup
}

func New(deps Deps, opts Options) *Controller {
	if opts.CountryCode == "" {
		opts.CountryCode = phone.DefaultCountryCode
	}
	if opts.FormURL == "" {
		opts.FormURL = DefaultFormURL
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Records == nil {
		opts.PhoneCheck = PhoneCheckOff
	}
	return &Controller{
		id:      deps.Identity,
		captcha: deps.Captcha,
		records: deps.Records,
		view:    deps.View,
		logger:  deps.Logger,
		opts:    opts,
		state:   SignedOut,
	}
}

// Load signs out any stale session, follows the provider's auth state and
// attaches the captcha widget.
func (c *Controller) Load(ctx context.Context) error {
	if err := c.id.SignOut(ctx); err != nil {
		c.logger.Errorw("error during sign out", "err", err)
	}

	c.mu.Lock()
	prev := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if prev != nil {
		prev()
	}

	unsub := c.id.OnAuthStateChanged(c.onAuthStateChanged)

	widgetID, err := c.captcha.Render(ctx, captcha.Callbacks{
		Solved:  c.CaptchaSolved,
		Expired: c.CaptchaExpired,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribe = unsub
	if err != nil {
		c.logger.Errorw("error rendering captcha", "err", err)
		c.render()
		return fmt.Errorf("render captcha: %w", err)
	}
	c.widgetID = widgetID
	if c.state == SignedOut {
		c.transition(AwaitingCaptcha)
	}
	c.render()
	return nil
}

// Close stops following the provider and waits for background lookups.
func (c *Controller) Close() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.checks.Wait()
}

func (c *Controller) onAuthStateChanged(u *identity.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case u != nil && c.state != SignedIn:
		// any call still in flight belongs to the signed-out form
		c.attempt++
		c.pending = nil
		c.transition(SignedIn)
	case u == nil && c.state == SignedIn:
		c.formURL = ""
		c.resetCaptcha()
		c.transition(SignedOut)
	}
	c.render()
}

// CaptchaSolved is the widget's completion callback.
func (c *Controller) CaptchaSolved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.render()
}

// CaptchaExpired is the widget's expiry callback.
func (c *Controller) CaptchaExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == SignedOut && c.widgetID != "" {
		c.transition(AwaitingCaptcha)
	}
	c.render()
}

// InputChanged re-derives the buttons after the phone or code input changed.
func (c *Controller) InputChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.render()
}

// SubmitSignIn sends the phone number and captcha proof to the provider.
func (c *Controller) SubmitSignIn(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.collectingPhone() {
		c.mu.Unlock()
		return ErrValidation
	}
	raw := c.view.PhoneNumber()
	proof := c.captcha.Response(c.widgetID)
	if proof == "" || !phone.IsValid(raw) {
		c.render()
		c.mu.Unlock()
		return ErrValidation
	}
	formatted := phone.Format(raw, c.opts.CountryCode)
	c.transition(SendingCode)
	c.attempt++
	attempt := c.attempt
	c.render()
	c.mu.Unlock()

	switch c.opts.PhoneCheck {
	case PhoneCheckEnforce:
		if err := c.enforcePhoneCheck(ctx, attempt, formatted); err != nil {
			return err
		}
	case PhoneCheckAdvisory:
		c.advisePhoneCheck(ctx, formatted)
	}

	conf, err := c.id.SignInWithPhoneNumber(ctx, formatted, proof)

	c.mu.Lock()
	defer c.mu.Unlock()
	if attempt != c.attempt {
		c.logger.Debugw("ignoring stale sign-in result", "phone", formatted)
		return nil
	}
	if err != nil {
		perr := newProviderError(opSignIn, err)
		c.logger.Errorw("error during signInWithPhoneNumber", "phone", formatted, "code", perr.Code, "err", err)
		c.view.Alert(perr.AlertText())
		c.pending = nil
		c.resetCaptcha()
		c.transition(SignedOut)
		c.render()
		return perr
	}
	if !c.transition(AwaitingCode) {
		return nil
	}
	c.pending = conf
	c.render()
	return nil
}

func (c *Controller) enforcePhoneCheck(ctx context.Context, attempt uint64, formatted string) error {
	n, err := c.records.CountByPhone(ctx, formatted)

	c.mu.Lock()
	defer c.mu.Unlock()
	if attempt != c.attempt {
		return nil
	}
	switch {
	case err != nil:
		perr := &ProviderError{Op: opPhoneCheck, Code: CodeRecordsUnavailable, Message: "The phone number could not be checked.", Err: err}
		c.logger.Errorw("error checking phone number", "phone", formatted, "err", err)
		c.view.Alert(perr.AlertText())
		c.resetCaptcha()
		c.transition(SignedOut)
		c.render()
		return perr
	case n > 0:
		c.logger.Infow("phone number already used", "phone", formatted, "count", n)
		c.view.Alert("This phone number has already been used.")
		c.resetCaptcha()
		c.transition(SignedOut)
		c.render()
		return ErrPhoneAlreadyUsed
	}
	return nil
}

// advisePhoneCheck runs the lookup without holding up the sign-in request.
// A hit is logged and has no effect on the form.
func (c *Controller) advisePhoneCheck(ctx context.Context, formatted string) {
	c.checks.Add(1)
	go func() {
		defer c.checks.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CheckTimeout)
		defer cancel()
		n, err := c.records.CountByPhone(cctx, formatted)
		if err != nil {
			c.logger.Warnw("phone check failed", "phone", formatted, "err", err)
			return
		}
		if n > 0 {
			c.logger.Infow("phone number already used", "phone", formatted, "count", n)
		}
	}()
}

// SubmitVerificationCode confirms the code typed by the user and, on
// success, sends the browser on to the survey form.
func (c *Controller) SubmitVerificationCode(ctx context.Context) error {
	c.mu.Lock()
	if c.state != AwaitingCode || c.pending == nil {
		c.mu.Unlock()
		return ErrValidation
	}
	code := c.view.VerificationCode()
	if code == "" {
		c.render()
		c.mu.Unlock()
		return ErrValidation
	}
	conf := c.pending
	c.transition(VerifyingCode)
	c.attempt++
	attempt := c.attempt
	c.render()
	c.mu.Unlock()

	user, err := conf.Confirm(ctx, code)

	c.mu.Lock()
	// A confirmed code signs the user in even when the attempt was
	// superseded, so its result is kept as long as that user is current.
	current := attempt == c.attempt
	if err == nil && user != nil && c.id.CurrentUser() == user {
		current = true
	}
	if !current {
		c.mu.Unlock()
		c.logger.Debugw("ignoring stale code confirmation")
		return nil
	}
	if err != nil {
		defer c.mu.Unlock()
		perr := newProviderError(opVerifyCode, err)
		c.logger.Errorw("error while checking the verification code", "code", perr.Code, "err", err)
		c.view.Alert(perr.AlertText())
		c.transition(AwaitingCode)
		c.render()
		return perr
	}
	c.pending = nil
	if c.state != SignedIn {
		c.transition(SignedIn)
	}
	url := FormURL(c.opts.FormURL, c.view.PhoneNumber(), code)
	c.formURL = url
	c.render()
	c.view.Navigate(url)
	c.mu.Unlock()

	if c.records != nil && user != nil {
		if err := c.records.RecordSignIn(ctx, user.PhoneNumber, user.UID); err != nil {
			c.logger.Warnw("could not record submission", "phone", user.PhoneNumber, "err", err)
		}
	}
	return nil
}

// CancelVerification drops the confirmation handle and shows the sign-in
// form again.
func (c *Controller) CancelVerification() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	if c.state == AwaitingCode || c.state == VerifyingCode {
		c.attempt++
		c.resetCaptcha()
		c.transition(SignedOut)
	}
	c.render()
}

// SignOut signs the user out. The provider's auth-state emission brings
// the form back to SignedOut.
func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.id.SignOut(ctx); err != nil {
		c.logger.Errorw("error during sign out", "err", err)
		return err
	}
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the provider session as the controller sees it.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session()
}

// Presentation returns what the page currently shows.
func (c *Controller) Presentation() Presentation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presentation()
}

func (c *Controller) session() Session {
	return Session{CurrentUser: c.id.CurrentUser(), Pending: c.pending}
}

func (c *Controller) presentation() Presentation {
	return Derive(Snapshot{
		Session:       c.session(),
		State:         c.state,
		CaptchaSolved: c.captcha.Response(c.widgetID) != "",
		PhoneValid:    phone.IsValid(c.view.PhoneNumber()),
		CodeEntered:   c.view.VerificationCode() != "",
		WidgetID:      c.widgetID,
		FormURL:       c.formURL,
	})
}

func (c *Controller) render() {
	c.view.Render(c.presentation())
}

func (c *Controller) resetCaptcha() {
	if c.widgetID != "" {
		c.captcha.Reset(c.widgetID)
	}
}

func (c *Controller) transition(to State) bool {
	if c.state == to {
		return true
	}
	if !CanTransition(c.state, to) {
		c.logger.Errorw("illegal state transition", "from", c.state.String(), "to", to.String(), "err", ErrIllegalTransition)
		return false
	}
	c.logger.Debugw("state transition", "from", c.state.String(), "to", to.String())
	c.state = to
	return true
}
