package identity

import "time"

// User is the signed-in identity. It is created by the provider after a
// successful code confirmation and dropped on sign-out.
type User struct {
	UID         string    `json:"uid"`
	PhoneNumber string    `json:"phoneNumber"`
	ProviderID  string    `json:"providerId"`
	CreatedAt   time.Time `json:"createdAt"`
	IDToken     string    `json:"-"`
}
