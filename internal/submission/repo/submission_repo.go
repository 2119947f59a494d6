package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/submission/entity"
)

// SubmissionRepo stores form submissions in PostgreSQL.
type SubmissionRepo struct {
	db *sqlx.DB
}

func NewSubmissionRepo(db *sqlx.DB) *SubmissionRepo {
	return &SubmissionRepo{db: db}
}

// EnsureTable creates the form_submissions table and its phone index.
func (r *SubmissionRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS form_submissions (
  id BIGINT PRIMARY KEY,
  phone varchar(16) NOT NULL,
  uid varchar(64) NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_form_submissions_phone ON form_submissions (phone);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// CountByPhone returns how many submissions exist for phone.
func (r *SubmissionRepo) CountByPhone(ctx context.Context, phone string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM form_submissions WHERE phone = $1`, phone); err != nil {
		return 0, err
	}
	return n, nil
}

// Create inserts s.
func (r *SubmissionRepo) Create(ctx context.Context, s *entity.Submission) error {
	const q = `INSERT INTO form_submissions (id, phone, uid, created_at) VALUES (:id, :phone, :uid, :created_at)`
	_, err := r.db.NamedExecContext(ctx, q, s)
	return err
}

// ListByPhone returns the submissions of phone, newest first.
func (r *SubmissionRepo) ListByPhone(ctx context.Context, phone string, limit int) ([]*entity.Submission, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []*entity.Submission
	const q = `SELECT id, phone, uid, created_at FROM form_submissions WHERE phone = $1 ORDER BY created_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &out, q, phone, limit); err != nil {
		return nil, err
	}
	return out, nil
}
