package entity

import "time"

// Submission records a phone number that was verified and sent on to the
// survey form.
type Submission struct {
	ID        int64     `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	UID       string    `db:"uid" json:"uid"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
