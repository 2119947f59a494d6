package otp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is a code waiting to be checked. Only the bcrypt hash is kept.
type Record struct {
	Phone string `json:"phone"`
	Hash  string `json:"hash"`
}

// CodeStore keeps pending codes by ticket until they expire.
type CodeStore interface {
	Put(ctx context.Context, ticket string, rec Record, ttl time.Duration) error
	// Get returns ok false when the ticket is unknown or expired.
	Get(ctx context.Context, ticket string) (rec Record, ok bool, err error)
	// IncrAttempts counts a check against ticket and returns the new count.
	IncrAttempts(ctx context.Context, ticket string, ttl time.Duration) (int, error)
	Delete(ctx context.Context, ticket string) error
	// Acquire takes key for ttl and reports false if it is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisStore is a CodeStore on Redis. Keys live under prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "phone-form:otp"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) Put(ctx context.Context, ticket string, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("code", ticket), raw, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, ticket string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, s.key("code", ticket)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) IncrAttempts(ctx context.Context, ticket string, ttl time.Duration) (int, error) {
	k := s.key("attempts", ticket)
	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		_ = s.client.Expire(ctx, k, ttl).Err()
	}
	return int(n), nil
}

func (s *RedisStore) Delete(ctx context.Context, ticket string) error {
	return s.client.Del(ctx, s.key("code", ticket), s.key("attempts", ticket)).Err()
}

func (s *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key("lock", key), "1", ttl).Result()
}

type memEntry struct {
	rec       Record
	attempts  int
	expiresAt time.Time
}

// MemoryStore is an in-process CodeStore for single-instance deployments
// and tests.
type MemoryStore struct {
	mu        sync.Mutex
	codes     map[string]*memEntry
	locks     map[string]time.Time
	nowF      func() time.Time
	lastSweep time.Time
}

// sweepEvery bounds how often a write scans for expired entries.
const sweepEvery = time.Minute

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes: make(map[string]*memEntry),
		locks: make(map[string]time.Time),
		nowF:  time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, ticket string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	s.sweep(now)
	s.codes[ticket] = &memEntry{rec: rec, expiresAt: now.Add(ttl)}
	return nil
}

// sweep drops expired codes and locks. Callers hold s.mu.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < sweepEvery {
		return
	}
	s.lastSweep = now
	for ticket, e := range s.codes {
		if !e.expiresAt.After(now) {
			delete(s.codes, ticket)
		}
	}
	for key, until := range s.locks {
		if !until.After(now) {
			delete(s.locks, key)
		}
	}
}

// Len returns the number of codes and locks held, expired ones included
// until the next sweep.
func (s *MemoryStore) Len() (codes, locks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes), len(s.locks)
}

func (s *MemoryStore) live(ticket string) (*memEntry, bool) {
	e, ok := s.codes[ticket]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(s.nowF()) {
		delete(s.codes, ticket)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) Get(_ context.Context, ticket string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(ticket)
	if !ok {
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

func (s *MemoryStore) IncrAttempts(_ context.Context, ticket string, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(ticket)
	if !ok {
		return 0, nil
	}
	e.attempts++
	return e.attempts, nil
}

func (s *MemoryStore) Delete(_ context.Context, ticket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, ticket)
	return nil
}

func (s *MemoryStore) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	s.sweep(now)
	if until, ok := s.locks[key]; ok && until.After(now) {
		return false, nil
	}
	s.locks[key] = now.Add(ttl)
	return true, nil
}
