package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"wakeline/pkg/models"
)

// DedupKey is the once-per-day identity of a scheduled call. LocalDate is the
// user's calendar date in their own time zone.
type DedupKey struct {
	UserID    string
	CallType  models.CallType
	LocalDate string
}

func (k DedupKey) String() string {
	return k.UserID + ":" + string(k.CallType) + ":" + k.LocalDate
}

// Ledger remembers which dedup keys already produced a call.
type Ledger interface {
	// Claim atomically reserves the key for callUUID. It returns false when
	// the key is already held.
	Claim(ctx context.Context, key DedupKey, callUUID string) (bool, error)
	Release(ctx context.Context, key DedupKey) error
	Lookup(ctx context.Context, key DedupKey) (string, bool, error)
}

type ledgerEntry struct {
	callUUID string
	expires  time.Time
}

// MemoryLedger is a TTL map. An expired key is evicted when it is next
// touched; Prune sweeps the rest.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]ledgerEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]ledgerEntry), ttl: ttl, now: time.Now}
}

func (l *MemoryLedger) Claim(_ context.Context, key DedupKey, callUUID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key.String()
	if e, ok := l.entries[k]; ok && !now.After(e.expires) {
		return false, nil
	}
	l.entries[k] = ledgerEntry{callUUID: callUUID, expires: now.Add(l.ttl)}
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, key DedupKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key.String())
	return nil
}

func (l *MemoryLedger) Lookup(_ context.Context, key DedupKey) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key.String()
	e, ok := l.entries[k]
	if !ok {
		return "", false, nil
	}
	if l.now().After(e.expires) {
		delete(l.entries, k)
		return "", false, nil
	}
	return e.callUUID, true, nil
}

// Prune drops every key that expired before the given time.
func (l *MemoryLedger) Prune(_ context.Context, before time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.entries {
		if e.expires.Before(before) {
			delete(l.entries, k)
			n++
		}
	}
	return n, nil
}

// Len is the number of keys held, expired or not.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RedisLedger stores one key per dedup key with SET NX and a TTL.
type RedisLedger struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisLedger {
	return &RedisLedger{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) key(k DedupKey) string {
	return l.prefix + "ledger:" + k.String()
}

func (l *RedisLedger) Claim(ctx context.Context, key DedupKey, callUUID string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key(key), callUUID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLedger) Release(ctx context.Context, key DedupKey) error {
	if err := l.rdb.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (l *RedisLedger) Lookup(ctx context.Context, key DedupKey) (string, bool, error) {
	v, err := l.rdb.Get(ctx, l.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return v, true, nil
}
