package web

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/captcha"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/loginform"
	"github.com/ovaphlow/pitchfork/service-phone-form/pkg/utilities"
)

// DefaultSessionTTL is how long an idle browser session is kept.
const DefaultSessionTTL = 30 * time.Minute

type SessionConfig struct {
	Backend  identity.Backend
	Verifier captcha.Verifier
	Tokens   *identity.TokenIssuer
	// Records is optional.
	Records loginform.RecordStore
	Options loginform.Options
	TTL     time.Duration
	// CaptchaDisabled keeps every widget solved with captcha.DisabledToken,
	// since no widget is shown to the browser.
	CaptchaDisabled bool
}

// Session is one browser: its login form and everything the form drives.
type Session struct {
	ID     string
	Form   *loginform.Controller
	Auth   *identity.Auth
	Widget *captcha.Widget
	View   *PageView

	captchaOff bool
	lastSeen   time.Time
}

// settleCaptcha solves the widget again after a reset or expiry when the
// captcha is disabled.
func (s *Session) settleCaptcha() {
	if !s.captchaOff {
		return
	}
	if id := s.Widget.ID(); id != "" && s.Widget.Response(id) == "" {
		s.Widget.Solve(id, captcha.DisabledToken)
	}
}

// Sessions keeps the live browser sessions in memory.
type Sessions struct {
	cfg    SessionConfig
	logger *zap.SugaredLogger
	nowF   func() time.Time

	mu    sync.Mutex
	items map[string]*Session
}

func NewSessions(cfg SessionConfig, logger *zap.SugaredLogger) *Sessions {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Verifier == nil {
		cfg.Verifier = captcha.AllowAll{}
	}
	return &Sessions{
		cfg:    cfg,
		logger: logger,
		nowF:   time.Now,
		items:  make(map[string]*Session),
	}
}

// Create builds and loads a new session for a browser at remoteIP.
func (s *Sessions) Create(ctx context.Context, remoteIP string) (*Session, error) {
	id := utilities.NewKSUID()
	logger := s.logger.With("session", id)
	sess := &Session{
		ID:         id,
		Widget:     captcha.NewWidget(),
		View:       NewPageView(),
		captchaOff: s.cfg.CaptchaDisabled,
	}
	sess.Auth = identity.NewAuth(s.cfg.Backend, s.cfg.Verifier, s.cfg.Tokens, remoteIP, logger)
	sess.Form = loginform.New(loginform.Deps{
		Identity: sess.Auth,
		Captcha:  sess.Widget,
		Records:  s.cfg.Records,
		View:     sess.View,
		Logger:   logger,
	}, s.cfg.Options)
	if err := sess.Form.Load(ctx); err != nil {
		sess.Form.Close()
		return nil, err
	}
	sess.settleCaptcha()

	s.mu.Lock()
	sess.lastSeen = s.nowF()
	s.items[id] = sess
	s.mu.Unlock()
	logger.Debugw("session created", "remote", remoteIP)
	return sess, nil
}

// Get returns the live session id and marks it as used.
func (s *Sessions) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[id]
	if !ok {
		return nil, false
	}
	now := s.nowF()
	if now.Sub(sess.lastSeen) > s.cfg.TTL {
		return nil, false
	}
	sess.lastSeen = now
	return sess, true
}

// Len returns the number of sessions held, expired ones included until the
// next sweep.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep evicts idle sessions and returns how many were removed.
func (s *Sessions) Sweep() int {
	now := s.nowF()
	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.items {
		if now.Sub(sess.lastSeen) > s.cfg.TTL {
			expired = append(expired, sess)
			delete(s.items, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Form.Close()
	}
	if len(expired) > 0 {
		s.logger.Debugw("sessions evicted", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done, then closes all sessions.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

// Close drops every session.
func (s *Sessions) Close() {
	s.mu.Lock()
	all := s.items
	s.items = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range all {
		sess.Form.Close()
	}
}
