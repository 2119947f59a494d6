package web

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/loginform"
)

func TestSessions_SweepEvictsIdle(t *testing.T) {
	s := NewSessions(SessionConfig{Backend: &fakeBackend{}, TTL: time.Minute}, zap.NewNop().Sugar())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.nowF = func() time.Time { return now }

	idle, err := s.Create(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if idle.Form.State() != loginform.AwaitingCaptcha {
		t.Errorf("new session state = %s", idle.Form.State())
	}
	now = now.Add(45 * time.Second)
	active, _ := s.Create(context.Background(), "127.0.0.1")

	now = now.Add(30 * time.Second)
	if _, ok := s.Get(idle.ID); ok {
		t.Error("idle session should not be returned after its TTL")
	}
	if _, ok := s.Get(active.ID); !ok {
		t.Error("active session missing")
	}
	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestSessions_GetUnknown(t *testing.T) {
	s := NewSessions(SessionConfig{Backend: &fakeBackend{}}, zap.NewNop().Sugar())
	if _, ok := s.Get(""); ok {
		t.Error("empty id found")
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("unknown id found")
	}
}

func TestSessions_RunClosesOnCancel(t *testing.T) {
	s := NewSessions(SessionConfig{Backend: &fakeBackend{}}, zap.NewNop().Sugar())
	if _, err := s.Create(context.Background(), ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after Run returned", s.Len())
	}
}
