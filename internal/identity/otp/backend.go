// Package otp is a self-hosted verification backend: it issues 6-digit
// codes, keeps their bcrypt hashes in a CodeStore and sends them by SMS.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-phone-form/internal/identity"
)

type Config struct {
	CodeTTL     time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	HashCost    int
	// Message is a fmt template with one %s for the code.
	Message string
}

func DefaultConfig() Config {
	return Config{
		CodeTTL:     10 * time.Minute,
		Cooldown:    60 * time.Second,
		MaxAttempts: 5,
		HashCost:    bcrypt.DefaultCost,
		Message:     "%s is your verification code.",
	}
}

type Backend struct {
	cfg    Config
	store  CodeStore
	sender Sender
	logger *zap.SugaredLogger
	genF   func() (string, error)
}

func New(cfg Config, store CodeStore, sender Sender, logger *zap.SugaredLogger) *Backend {
	return &Backend{cfg: cfg, store: store, sender: sender, logger: logger, genF: GenerateCode}
}

// GenerateCode returns a random 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (b *Backend) StartVerification(ctx context.Context, phone string) (string, error) {
	ok, err := b.store.Acquire(ctx, "cooldown:"+phone, b.cfg.Cooldown)
	if err != nil {
		return "", identity.NewError(identity.CodeInternal, "The verification service is unavailable.", err)
	}
	if !ok {
		return "", identity.NewError(identity.CodeTooManyRequests, "Please wait before requesting another code.", nil)
	}

	code, err := b.genF()
	if err != nil {
		return "", identity.NewError(identity.CodeInternal, "Could not generate a code.", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), b.cfg.HashCost)
	if err != nil {
		return "", identity.NewError(identity.CodeInternal, "Could not generate a code.", err)
	}
	ticket := uuid.NewString()
	if err := b.store.Put(ctx, ticket, Record{Phone: phone, Hash: string(hash)}, b.cfg.CodeTTL); err != nil {
		return "", identity.NewError(identity.CodeInternal, "The verification service is unavailable.", err)
	}
	if err := b.sender.Send(ctx, phone, fmt.Sprintf(b.cfg.Message, code)); err != nil {
		_ = b.store.Delete(ctx, ticket)
		return "", identity.NewError(identity.CodeInternal, "The SMS could not be sent.", err)
	}
	return ticket, nil
}

func (b *Backend) CheckVerification(ctx context.Context, ticket, phone, code string) (bool, error) {
	rec, ok, err := b.store.Get(ctx, ticket)
	if err != nil {
		return false, identity.NewError(identity.CodeInternal, "The verification service is unavailable.", err)
	}
	if !ok {
		return false, identity.NewError(identity.CodeCodeExpired, "The verification code has expired.", nil)
	}
	if rec.Phone != phone {
		return false, nil
	}
	n, err := b.store.IncrAttempts(ctx, ticket, b.cfg.CodeTTL)
	if err != nil {
		return false, identity.NewError(identity.CodeInternal, "The verification service is unavailable.", err)
	}
	if n > b.cfg.MaxAttempts {
		_ = b.store.Delete(ctx, ticket)
		b.logger.Warnw("verification attempts exhausted", "phone", phone)
		return false, identity.NewError(identity.CodeTooManyRequests, "Too many attempts, request a new code.", nil)
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(code)) != nil {
		return false, nil
	}
	_ = b.store.Delete(ctx, ticket)
	return true, nil
}
