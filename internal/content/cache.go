package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"wakeline/pkg/models"
)

// Cache stores generated content per callUUID so retries and reconnects get
// the same script.
type Cache interface {
	Get(ctx context.Context, callUUID string) (Content, bool, error)
	Set(ctx context.Context, c Content, ttl time.Duration) error
}

type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisCache(rdb redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix + "content:"}
}

func (c *RedisCache) Get(ctx context.Context, callUUID string) (Content, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+callUUID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Content{}, false, nil
	}
	if err != nil {
		return Content{}, false, err
	}
	var out Content
	if err := json.Unmarshal(raw, &out); err != nil {
		return Content{}, false, fmt.Errorf("decode cached content: %w", err)
	}
	return out, true, nil
}

func (c *RedisCache) Set(ctx context.Context, content Content, ttl time.Duration) error {
	data, err := json.Marshal(content)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+content.CallUUID, data, ttl).Err()
}

type memoryItem struct {
	content Content
	expires time.Time
}

type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, callUUID string) (Content, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[callUUID]
	if !ok {
		return Content{}, false, nil
	}
	if c.now().After(item.expires) {
		delete(c.items, callUUID)
		return Content{}, false, nil
	}
	return item.content, true, nil
}

func (c *MemoryCache) Set(_ context.Context, content Content, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, item := range c.items {
		if now.After(item.expires) {
			delete(c.items, id)
		}
	}
	c.items[content.CallUUID] = memoryItem{content: content, expires: now.Add(ttl)}
	return nil
}

// Cached wraps a Generator with a cache. Concurrent requests for one call
// share a single upstream fetch.
type Cached struct {
	next  Generator
	cache Cache
	ttl   time.Duration
	group singleflight.Group
	log   *slog.Logger
}

func NewCached(next Generator, cache Cache, ttl time.Duration, log *slog.Logger) *Cached {
	if log == nil {
		log = slog.Default()
	}
	return &Cached{next: next, cache: cache, ttl: ttl, log: log.With(slog.String("component", "content"))}
}

func (c *Cached) Generate(ctx context.Context, userID string, callType models.CallType, callUUID string) (Content, error) {
	if hit, ok, err := c.cache.Get(ctx, callUUID); err != nil {
		c.log.Warn("content cache read failed", slog.String("callUUID", callUUID), slog.Any("error", err))
	} else if ok {
		return hit, nil
	}

	v, err, _ := c.group.Do(callUUID, func() (any, error) {
		if hit, ok, err := c.cache.Get(ctx, callUUID); err == nil && ok {
			return hit, nil
		}
		generated, err := c.next.Generate(ctx, userID, callType, callUUID)
		if err != nil {
			return Content{}, err
		}
		if err := c.cache.Set(ctx, generated, c.ttl); err != nil {
			c.log.Warn("content cache write failed", slog.String("callUUID", callUUID), slog.Any("error", err))
		}
		return generated, nil
	})
	if err != nil {
		return Content{}, err
	}
	return v.(Content), nil
}
