package captcha

import (
	"context"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-phone-form/pkg/utilities"
)

// ResponseTTL is how long a solved response stays usable. reCAPTCHA tokens
// expire after two minutes.
const ResponseTTL = 2 * time.Minute

// Callbacks are fired when the browser reports the widget solved or expired.
type Callbacks struct {
	Solved  func()
	Expired func()
}

// Widget tracks the CAPTCHA widget rendered into one browser's page.
type Widget struct {
	mu        sync.Mutex
	id        string
	response  string
	expiresAt time.Time
	cb        Callbacks
	nowF      func() time.Time
}

func NewWidget() *Widget {
	return &Widget{nowF: time.Now}
}

// Render attaches a fresh widget and returns its id.
func (w *Widget) Render(_ context.Context, cb Callbacks) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.id = utilities.NewKSUID()
	w.response = ""
	w.cb = cb
	return w.id, nil
}

// ID returns the id of the rendered widget, or "".
func (w *Widget) ID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

// Response returns the current response token of widget id, or "" when the
// widget is unsolved, reset or expired.
func (w *Widget) Response(id string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == "" || id != w.id {
		return ""
	}
	if w.response != "" && !w.expiresAt.After(w.nowF()) {
		w.response = ""
	}
	return w.response
}

// Reset clears the response of widget id.
func (w *Widget) Reset(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == w.id {
		w.response = ""
	}
}

// Solve records the browser's response token and fires the solved callback.
// It reports false when id is not the rendered widget.
func (w *Widget) Solve(id, token string) bool {
	w.mu.Lock()
	if id == "" || id != w.id {
		w.mu.Unlock()
		return false
	}
	w.response = token
	w.expiresAt = w.nowF().Add(ResponseTTL)
	cb := w.cb.Solved
	w.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

// Expire drops the response and fires the expired callback.
func (w *Widget) Expire(id string) bool {
	w.mu.Lock()
	if id == "" || id != w.id {
		w.mu.Unlock()
		return false
	}
	w.response = ""
	cb := w.cb.Expired
	w.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}
