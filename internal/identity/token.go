package identity

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by the ID token of a signed-in user.
type Claims struct {
	PhoneNumber string `json:"phone_number"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 ID tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	nowF   func() time.Time
}

// NewTokenIssuer returns an issuer. An empty secret gets a random one,
// which invalidates tokens across restarts.
func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: key, issuer: issuer, ttl: ttl, nowF: time.Now}, nil
}

// Issue returns a signed ID token for u.
func (t *TokenIssuer) Issue(u *User) (string, error) {
	now := t.nowF()
	claims := Claims{
		PhoneNumber: u.PhoneNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   u.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

var ErrInvalidToken = errors.New("invalid id token")

// Parse verifies token and returns its claims.
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.nowF),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	return &claims, nil
}
