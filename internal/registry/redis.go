package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"wakeline/pkg/models"
)

const maxTxRetries = 10

// RedisStore keeps one JSON value per callUUID plus a set of active ids.
// Updates use WATCH/MULTI so concurrent writers on one key retry instead of
// overwriting each other.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
	log       *slog.Logger
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		prefix:    prefix,
		retention: retention,
		log:       slog.Default().With(slog.String("component", "registry")),
	}
}

// WithLogger replaces the store's logger.
func (s *RedisStore) WithLogger(log *slog.Logger) *RedisStore {
	if log != nil {
		s.log = log.With(slog.String("component", "registry"))
	}
	return s
}

func (s *RedisStore) callKey(callUUID string) string {
	return s.prefix + "call:" + callUUID
}

func (s *RedisStore) activeKey() string {
	return s.prefix + "calls:active"
}

func (s *RedisStore) Create(ctx context.Context, call models.PendingCall) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("encode pending call: %w", err)
	}
	key := s.callKey(call.CallUUID)

	return s.withRetry(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.retention)
			if call.Active() {
				pipe.SAdd(ctx, s.activeKey(), call.CallUUID)
			}
			return nil
		})
		return err
	})
}

func (s *RedisStore) Get(ctx context.Context, callUUID string) (models.PendingCall, error) {
	raw, err := s.rdb.Get(ctx, s.callKey(callUUID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PendingCall{}, ErrNotFound
	}
	if err != nil {
		return models.PendingCall{}, fmt.Errorf("get pending call: %w", err)
	}
	return decodeCall(raw)
}

func (s *RedisStore) List(ctx context.Context) ([]models.PendingCall, error) {
	ids, err := s.rdb.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active calls: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.callKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load active calls: %w", err)
	}

	var stale []any
	out := make([]models.PendingCall, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// expired under retention
			stale = append(stale, ids[i])
			continue
		}
		call, err := decodeCall([]byte(str))
		if err != nil {
			return nil, err
		}
		if call.Active() {
			out = append(out, call)
		}
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, s.activeKey(), stale...).Err(); err != nil {
			s.log.Warn("stale active ids not removed", slog.Int("count", len(stale)), slog.Any("error", err))
		}
	}
	return out, nil
}

func (s *RedisStore) Update(ctx context.Context, callUUID string, fn UpdateFunc) (models.PendingCall, error) {
	key := s.callKey(callUUID)
	var result models.PendingCall

	err := s.withRetry(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeCall(raw)
		if err != nil {
			return err
		}

		next := current
		if err := fn(&next); err != nil {
			result = current
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode pending call: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.retention)
			if next.Active() {
				pipe.SAdd(ctx, s.activeKey(), callUUID)
			} else {
				pipe.SRem(ctx, s.activeKey(), callUUID)
			}
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	})
	return result, err
}

func (s *RedisStore) Delete(ctx context.Context, callUUID string) error {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.callKey(callUUID))
		pipe.SRem(ctx, s.activeKey(), callUUID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete pending call: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// withRetry runs fn inside WATCH on key and retries when another client
// changed the key before EXEC.
func (s *RedisStore) withRetry(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too much contention", key)
}

func decodeCall(raw []byte) (models.PendingCall, error) {
	var call models.PendingCall
	if err := json.Unmarshal(raw, &call); err != nil {
		return models.PendingCall{}, fmt.Errorf("decode pending call: %w", err)
	}
	return call, nil
}
