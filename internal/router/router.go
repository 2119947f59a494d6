package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/web"
	"github.com/ovaphlow/pitchfork/service-phone-form/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// ContentSecurityPolicy lets the page load the reCAPTCHA widget and frame
// the survey.
func ContentSecurityPolicy(formOrigin string) string {
	frames := "https://www.google.com/recaptcha/ https://recaptcha.google.com/recaptcha/"
	if formOrigin != "" {
		frames += " " + formOrigin
	}
	return "default-src 'self'; " +
		"script-src 'self' https://www.google.com/recaptcha/ https://www.gstatic.com/recaptcha/; " +
		"frame-src " + frames + "; " +
		"object-src 'none'; base-uri 'self';"
}

// SecurityHeadersMiddleware sets common HTTP security headers. The page
// embeds a third-party frame, so framing of this site is limited to itself.
func SecurityHeadersMiddleware(csp string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			w.Header().Set("X-Frame-Options", "SAMEORIGIN")

			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")

			// the survey asks for none of these
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", csp)
			}

			// HSTS - only set if request is over TLS.
			if r.TLS != nil {
				// 30 days by default
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter is a fixed-window limiter per client IP kept in Redis. When
// Redis cannot be reached requests are let through.
func RateLimiter(rdb redis.UniversalClient, limit int, window time.Duration, keyPrefix string, trustProxy bool, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rdb == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := rateKey(keyPrefix, r, trustProxy)

			count, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				logger.Warnw("rate limiter unavailable", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				rdb.Expire(ctx, key, window)
			}
			ttl, _ := rdb.TTL(ctx, key).Result()
			if ttl < 0 {
				ttl = window
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			if count > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
				http.Error(w, "too many requests, try again in "+ttl.String(), http.StatusTooManyRequests)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(prefix string, r *http.Request, trustProxy bool) string {
	return prefix + ":ip:" + utilities.ClientIP(r, trustProxy)
}

// NewSessionsOnly applies limit to requests that would start a session.
// Browsers that already hold a live one pass straight through.
func NewSessionsOnly(hasSession func(*http.Request) bool, limit func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasSession(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// Options for RegisterRoutes.
type Options struct {
	// FormOrigin is the scheme and host of the survey, allowed as a frame.
	FormOrigin string
	Redis      redis.UniversalClient
	RateLimit  int
	RateWindow time.Duration
	// TrustProxy keys the limiter on X-Forwarded-For.
	TrustProxy bool
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, form *web.Handler, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	limit := RateLimiter(opts.Redis, opts.RateLimit, opts.RateWindow, "form:rate", opts.TrustProxy, logger)
	newSession := NewSessionsOnly(form.HasSession,
		RateLimiter(opts.Redis, opts.RateLimit, opts.RateWindow, "form:rate:session", opts.TrustProxy, logger))

	mux.Handle("GET /form", newSession(http.HandlerFunc(form.Page)))
	mux.Handle("GET /form/assets/", form.Assets())
	mux.HandleFunc("GET /form/state", form.State)
	mux.HandleFunc("GET /form/me", form.Me)
	mux.Handle("POST /form/sign-in", limit(http.HandlerFunc(form.SignIn)))
	mux.Handle("POST /form/verify", limit(http.HandlerFunc(form.Verify)))
	mux.HandleFunc("POST /form/cancel", form.Cancel)
	mux.HandleFunc("POST /form/sign-out", form.SignOut)
	mux.HandleFunc("POST /form/captcha", form.CaptchaSolved)
	mux.HandleFunc("POST /form/captcha/expire", form.CaptchaExpired)
	mux.HandleFunc("POST /form/input", form.Input)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/form", http.StatusFound)
	})

	// wrap with security headers middleware then logging middleware
	handler := LoggingMiddleware(logger)(SecurityHeadersMiddleware(ContentSecurityPolicy(opts.FormOrigin))(mux))
	return handler
}
