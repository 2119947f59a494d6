package submission

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/submission/entity"
	"github.com/ovaphlow/pitchfork/service-phone-form/pkg/utilities"
)

// Store is the persistence the service needs; *repo.SubmissionRepo
// implements it.
type Store interface {
	CountByPhone(ctx context.Context, phone string) (int, error)
	Create(ctx context.Context, s *entity.Submission) error
	ListByPhone(ctx context.Context, phone string, limit int) ([]*entity.Submission, error)
}

var ErrPhoneRequired = errors.New("phone is required")

// Service is the remote record store of the sign-in form.
type Service struct {
	store  Store
	logger *zap.SugaredLogger
	nowF   func() time.Time
	idF    func() int64
}

func NewService(store Store, logger *zap.SugaredLogger) *Service {
	return &Service{store: store, logger: logger, nowF: time.Now, idF: utilities.NewRecordID}
}

// CountByPhone returns the number of submissions recorded for phone.
func (s *Service) CountByPhone(ctx context.Context, phone string) (int, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return 0, ErrPhoneRequired
	}
	return s.store.CountByPhone(ctx, phone)
}

// RecordSignIn stores a submission for a verified phone.
func (s *Service) RecordSignIn(ctx context.Context, phone, uid string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ErrPhoneRequired
	}
	sub := &entity.Submission{
		ID:        s.idF(),
		Phone:     phone,
		UID:       uid,
		CreatedAt: s.nowF().UTC(),
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return err
	}
	s.logger.Debugw("submission recorded", "id", sub.ID, "phone", phone)
	return nil
}

// History returns recent submissions for phone.
func (s *Service) History(ctx context.Context, phone string, limit int) ([]*entity.Submission, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, ErrPhoneRequired
	}
	return s.store.ListByPhone(ctx, phone, limit)
}
