// Package web serves the sign-in form to browsers. Each browser gets a
// session cookie that selects its login form controller.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/loginform"
	"github.com/ovaphlow/pitchfork/service-phone-form/internal/submission/entity"
	"github.com/ovaphlow/pitchfork/service-phone-form/pkg/utilities"
)

// SessionCookie holds the browser session id.
const SessionCookie = "form_session"

//go:embed assets
var assets embed.FS

var pageTmpl = template.Must(template.ParseFS(assets, "assets/form.html"))

// History lists earlier submissions of a phone number. Optional.
type History interface {
	History(ctx context.Context, phone string, limit int) ([]*entity.Submission, error)
}

type HandlerOptions struct {
	// SiteKey is the reCAPTCHA site key rendered into the page.
	SiteKey string
	// TrustProxy reads the client address from X-Forwarded-For.
	TrustProxy bool
}

// Handler contains dependencies for the form endpoints.
type Handler struct {
	sessions *Sessions
	tokens   *identity.TokenIssuer
	history  History
	opts     HandlerOptions
	logger   *zap.SugaredLogger
}

func NewHandler(sessions *Sessions, tokens *identity.TokenIssuer, history History, opts HandlerOptions, logger *zap.SugaredLogger) *Handler {
	return &Handler{sessions: sessions, tokens: tokens, history: history, opts: opts, logger: logger}
}

// HasSession reports whether r carries the cookie of a live session.
func (h *Handler) HasSession(r *http.Request) bool {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return false
	}
	_, ok := h.sessions.Get(c.Value)
	return ok
}

// Assets serves the stylesheet and script of the page.
func (h *Handler) Assets() http.Handler {
	sub, _ := fs.Sub(assets, "assets")
	return http.StripPrefix("/form/assets/", http.FileServerFS(sub))
}

type pageData struct {
	loginform.Presentation
	PhoneNumber      string
	VerificationCode string
	Alerts           []string
	SiteKey          string
}

// Page renders the form, starting a session when the browser has none.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		var err error
		sess, err = h.sessions.Create(r.Context(), utilities.ClientIP(r, h.opts.TrustProxy))
		if err != nil {
			h.logger.Errorw("create session failed", "err", err)
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		h.setCookie(w, r, sess.ID)
	}
	phone, code := sess.View.PhoneNumber(), sess.View.VerificationCode()
	data := pageData{
		Presentation:     sess.Form.Presentation(),
		PhoneNumber:      phone,
		VerificationCode: code,
		Alerts:           sess.View.TakeAlerts(),
		SiteKey:          h.opts.SiteKey,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTmpl.Execute(w, data); err != nil {
		h.logger.Warnw("render page failed", "err", err)
	}
}

// SignIn handles the sign-in form post.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		h.backToForm(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.logger.Debugw("invalid sign-in form", "err", err)
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sess.View.SetPhoneNumber(strings.TrimSpace(r.PostForm.Get("phone_number")))
	// browsers without script post the widget response with the form
	if token := r.PostForm.Get("g-recaptcha-response"); token != "" {
		sess.Widget.Solve(sess.Widget.ID(), token)
	}
	h.logSubmit(sess, "sign-in", sess.Form.SubmitSignIn(r.Context()))
	h.backToForm(w, r)
}

// Verify handles the verification-code form post.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		h.backToForm(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.logger.Debugw("invalid verify form", "err", err)
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sess.View.SetVerificationCode(r.PostForm.Get("verification_code"))
	h.logSubmit(sess, "verify", sess.Form.SubmitVerificationCode(r.Context()))
	h.backToForm(w, r)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if sess, ok := h.session(r); ok {
		sess.Form.CancelVerification()
	}
	h.backToForm(w, r)
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if sess, ok := h.session(r); ok {
		if err := sess.Form.SignOut(r.Context()); err != nil {
			h.logger.Warnw("sign out failed", "session", sess.ID, "err", err)
		}
	}
	h.backToForm(w, r)
}

type captchaRequest struct {
	WidgetID string `json:"widgetId"`
	Token    string `json:"token"`
}

// CaptchaSolved is called by the widget's completion callback.
func (h *Handler) CaptchaSolved(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.jsonSession(w, r)
	if !ok {
		return
	}
	var req captchaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if !sess.Widget.Solve(req.WidgetID, req.Token) {
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "unknown widget"})
		return
	}
	h.writeState(w, sess)
}

// CaptchaExpired is called by the widget's expiry callback.
func (h *Handler) CaptchaExpired(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.jsonSession(w, r)
	if !ok {
		return
	}
	var req captchaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if !sess.Widget.Expire(req.WidgetID) {
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "unknown widget"})
		return
	}
	h.writeState(w, sess)
}

type inputRequest struct {
	PhoneNumber      string `json:"phoneNumber"`
	VerificationCode string `json:"verificationCode"`
}

// Input receives the current values of the inputs on every keyup.
func (h *Handler) Input(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.jsonSession(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	sess.View.SetInputs(strings.TrimSpace(req.PhoneNumber), req.VerificationCode)
	sess.Form.InputChanged()
	h.writeState(w, sess)
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.jsonSession(w, r)
	if !ok {
		return
	}
	h.writeState(w, sess)
}

// MeResponse describes the holder of an ID token.
type MeResponse struct {
	UID         string               `json:"uid"`
	PhoneNumber string               `json:"phoneNumber"`
	ExpiresAt   time.Time            `json:"expiresAt"`
	Submissions []*entity.Submission `json:"submissions,omitempty"`
}

// Me returns the user of the bearer ID token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing token"})
		return
	}
	claims, err := h.tokens.Parse(strings.TrimSpace(raw))
	if err != nil {
		h.logger.Debugw("invalid id token", "err", err)
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}
	resp := MeResponse{UID: claims.Subject, PhoneNumber: claims.PhoneNumber}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	if h.history != nil {
		subs, err := h.history.History(r.Context(), claims.PhoneNumber, 10)
		if err != nil {
			h.logger.Warnw("load submissions failed", "phone", claims.PhoneNumber, "err", err)
		} else {
			resp.Submissions = subs
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type stateResponse struct {
	loginform.Presentation
	Alerts []string `json:"alerts,omitempty"`
}

func (h *Handler) writeState(w http.ResponseWriter, sess *Session) {
	h.writeJSON(w, http.StatusOK, stateResponse{
		Presentation: sess.Form.Presentation(),
		Alerts:       sess.View.TakeAlerts(),
	})
}

func (h *Handler) logSubmit(sess *Session, op string, err error) {
	var perr *loginform.ProviderError
	switch {
	case err == nil:
	case errors.As(err, &perr):
		// already alerted and logged by the controller
	case errors.Is(err, loginform.ErrValidation):
		h.logger.Debugw("submission rejected", "session", sess.ID, "op", op, "err", err)
	default:
		h.logger.Warnw("submission failed", "session", sess.ID, "op", op, "err", err)
	}
}

func (h *Handler) session(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, false
	}
	sess, ok := h.sessions.Get(c.Value)
	if ok {
		sess.settleCaptcha()
	}
	return sess, ok
}

func (h *Handler) jsonSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := h.session(r)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return sess, ok
}

func (h *Handler) setCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/form",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) backToForm(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/form", http.StatusSeeOther)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
