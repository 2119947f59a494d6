package web

import (
	"sync"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/loginform"
)

// PageView is the server-side copy of one browser's page. The handlers
// write the inputs posted by the browser; the controller reads them and
// renders into it.
type PageView struct {
	mu        sync.Mutex
	phone     string
	code      string
	alerts    []string
	navigated string
	last      loginform.Presentation
}

func NewPageView() *PageView {
	return &PageView{}
}

func (v *PageView) PhoneNumber() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phone
}

func (v *PageView) VerificationCode() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.code
}

// Alert queues msg. Queued alerts are shown once, on the next page render.
func (v *PageView) Alert(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerts = append(v.alerts, msg)
}

func (v *PageView) Navigate(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.navigated = url
}

func (v *PageView) Render(p loginform.Presentation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = p
	if p.FormURL == "" {
		v.navigated = ""
	}
}

// SetInputs stores the values of the phone-number and verification-code
// inputs.
func (v *PageView) SetInputs(phone, code string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.phone, v.code = phone, code
}

func (v *PageView) SetPhoneNumber(phone string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.phone = phone
}

func (v *PageView) SetVerificationCode(code string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.code = code
}

// TakeAlerts returns and clears the queued alerts.
func (v *PageView) TakeAlerts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.alerts
	v.alerts = nil
	return out
}

// Navigated returns the last navigation target, or "" after sign-out.
func (v *PageView) Navigated() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.navigated
}

// Last returns the last rendered presentation.
func (v *PageView) Last() loginform.Presentation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}
