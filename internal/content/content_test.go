package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakeline/internal/logs"
	"wakeline/pkg/models"
)

func TestHTTPGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "c-1", req.CallUUID)
		assert.Equal(t, models.CallTypeDailyReckoning, req.CallType)
		_ = json.NewEncoder(w).Encode(map[string]any{"prompts": []string{"one", "two"}})
	}))
	defer srv.Close()

	got, err := NewHTTPGenerator(srv.URL, srv.Client()).Generate(context.Background(), "u1", models.CallTypeDailyReckoning, "c-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got.Prompts)
	assert.Equal(t, "c-1", got.CallUUID)
	assert.Equal(t, "u1", got.UserID)
	assert.False(t, got.GeneratedAt.IsZero())
}

func TestHTTPGeneratorErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}},
		{"empty content", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"prompts":[]}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewHTTPGenerator(srv.URL, srv.Client()).Generate(context.Background(), "u1", models.CallTypeDailyReckoning, "c-1")
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

type countingGenerator struct {
	calls atomic.Int32
	err   error
}

func (g *countingGenerator) Generate(ctx context.Context, userID string, callType models.CallType, callUUID string) (Content, error) {
	g.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	if g.err != nil {
		return Content{}, g.err
	}
	return Static{}.Generate(ctx, userID, callType, callUUID)
}

func caches(t *testing.T) map[string]Cache {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Cache{
		"memory": NewMemoryCache(),
		"redis":  NewRedisCache(rdb, "test:"),
	}
}

func TestCachedGeneratesOncePerCall(t *testing.T) {
	for name, cache := range caches(t) {
		t.Run(name, func(t *testing.T) {
			gen := &countingGenerator{}
			c := NewCached(gen, cache, time.Minute, logs.Discard())

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					got, err := c.Generate(context.Background(), "u1", models.CallTypeDailyReckoning, "c-1")
					assert.NoError(t, err)
					assert.NotEmpty(t, got.Prompts)
				}()
			}
			wg.Wait()

			_, err := c.Generate(context.Background(), "u1", models.CallTypeDailyReckoning, "c-1")
			require.NoError(t, err)
			assert.Equal(t, int32(1), gen.calls.Load())
		})
	}
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	gen := &countingGenerator{err: errors.New("down")}
	c := NewCached(gen, NewMemoryCache(), time.Minute, logs.Discard())

	_, err := c.Generate(context.Background(), "u1", models.CallTypeFirstCall, "c-2")
	require.Error(t, err)
	_, err = c.Generate(context.Background(), "u1", models.CallTypeFirstCall, "c-2")
	require.Error(t, err)
	assert.Equal(t, int32(2), gen.calls.Load())
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, Content{CallUUID: "c-1"}, time.Minute))
	_, ok, _ := c.Get(ctx, "c-1")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "c-1")
	assert.False(t, ok)
}

func TestStaticFallsBackToDailyPrompts(t *testing.T) {
	got, err := Static{}.Generate(context.Background(), "u1", models.CallType("other"), "c-9")
	require.NoError(t, err)
	assert.Equal(t, fallbackPrompts[models.CallTypeDailyReckoning], got.Prompts)
}
