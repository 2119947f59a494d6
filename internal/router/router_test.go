package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/captcha"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/web"
)

func newHandler(t *testing.T, opts Options) http.Handler {
	t.Helper()
	logger := zap.NewNop().Sugar()
	tokens, err := identity.NewTokenIssuer("secret", "phone-form", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	sessions := web.NewSessions(web.SessionConfig{Verifier: captcha.AllowAll{}, Tokens: tokens}, logger)
	t.Cleanup(sessions.Close)
	return RegisterRoutes(logger, web.NewHandler(sessions, tokens, nil, web.HandlerOptions{}, logger), opts)
}

func TestHealth(t *testing.T) {
	h := newHandler(t, Options{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestRoutes(t *testing.T) {
	h := newHandler(t, Options{FormOrigin: "https://lemont.typeform.com"})
	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/", http.StatusFound},
		{http.MethodGet, "/form", http.StatusOK},
		{http.MethodGet, "/form/assets/form.css", http.StatusOK},
		{http.MethodGet, "/form/state", http.StatusNotFound},
		{http.MethodGet, "/form/me", http.StatusUnauthorized},
		{http.MethodPost, "/form/sign-in", http.StatusSeeOther},
		{http.MethodPost, "/form/cancel", http.StatusSeeOther},
		{http.MethodGet, "/form/sign-in", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := newHandler(t, Options{FormOrigin: "https://lemont.typeform.com"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/form", nil))

	csp := rec.Header().Get("Content-Security-Policy")
	for _, want := range []string{"frame-src", "https://lemont.typeform.com", "https://www.gstatic.com/recaptcha/"} {
		if !strings.Contains(csp, want) {
			t.Errorf("CSP %q is missing %q", csp, want)
		}
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS set on plain HTTP")
	}
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := RateLimiter(rdb, 1, time.Minute, "test", false, zap.NewNop().Sugar())(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/form/sign-in", nil))
	if !called {
		t.Error("request should pass when redis is unavailable")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := RateLimiter(nil, 5, time.Minute, "test", false, zap.NewNop().Sugar())(next); got == nil {
		t.Fatal("nil handler")
	}
}

func TestRateKey_IgnoresForwardedHeader(t *testing.T) {
	req := func(forwarded string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/form/sign-in", nil)
		r.RemoteAddr = "198.51.100.4:5555"
		if forwarded != "" {
			r.Header.Set("X-Forwarded-For", forwarded)
		}
		return r
	}
	want := rateKey("form:rate", req(""), false)
	if want != "form:rate:ip:198.51.100.4" {
		t.Fatalf("key = %q", want)
	}
	// a client rotating the header keeps hitting the same counter
	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2, 3.3.3.3"} {
		if got := rateKey("form:rate", req(spoofed), false); got != want {
			t.Errorf("key with X-Forwarded-For %q = %q, want %q", spoofed, got, want)
		}
	}
	if got := rateKey("form:rate", req("1.1.1.1, 203.0.113.9"), true); got != "form:rate:ip:203.0.113.9" {
		t.Errorf("key behind proxy = %q", got)
	}
}

func TestNewSessionsOnly(t *testing.T) {
	limited := 0
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited++
			next.ServeHTTP(w, r)
		})
	}
	hasSession := func(r *http.Request) bool {
		_, err := r.Cookie(web.SessionCookie)
		return err == nil
	}
	served := 0
	h := NewSessionsOnly(hasSession, limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { served++ }))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/form", nil))
	withCookie := httptest.NewRequest(http.MethodGet, "/form", nil)
	withCookie.AddCookie(&http.Cookie{Name: web.SessionCookie, Value: "s1"})
	h.ServeHTTP(httptest.NewRecorder(), withCookie)

	if served != 2 || limited != 1 {
		t.Errorf("served=%d limited=%d, want 2 and 1", served, limited)
	}
}

func TestFormPage_LimiterFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	h := newHandler(t, Options{Redis: rdb, RateLimit: 1, RateWindow: time.Minute})
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/form", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /form #%d = %d", i, rec.Code)
		}
	}
}
