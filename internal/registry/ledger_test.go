package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakeline/pkg/models"
)

func ledgers(t *testing.T) map[string]Ledger {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Ledger{
		"memory": NewMemoryLedger(48 * time.Hour),
		"redis":  NewRedisLedger(rdb, "test:", 48*time.Hour),
	}
}

func TestLedgerClaimOncePerKey(t *testing.T) {
	key := DedupKey{UserID: "u1", CallType: models.CallTypeDailyReckoning, LocalDate: "2026-03-01"}

	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := l.Claim(ctx, key, "call-1")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = l.Claim(ctx, key, "call-2")
			require.NoError(t, err)
			assert.False(t, ok)

			id, found, err := l.Lookup(ctx, key)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "call-1", id)

			next := key
			next.LocalDate = "2026-03-02"
			ok, err = l.Claim(ctx, next, "call-3")
			require.NoError(t, err)
			assert.True(t, ok, "a new local date is a new key")

			require.NoError(t, l.Release(ctx, key))
			ok, err = l.Claim(ctx, key, "call-4")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestLedgerConcurrentClaims(t *testing.T) {
	key := DedupKey{UserID: "u1", CallType: models.CallTypeDailyReckoning, LocalDate: "2026-03-01"}

	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, err := l.Claim(context.Background(), key, "x"); err == nil && ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, wins.Load())
		})
	}
}

func TestMemoryLedgerExpiry(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	key := DedupKey{UserID: "u1", CallType: models.CallTypeDailyReckoning, LocalDate: "2026-03-01"}

	ok, _ := l.Claim(context.Background(), key, "a")
	require.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, found, _ := l.Lookup(context.Background(), key)
	assert.False(t, found)

	ok, _ = l.Claim(context.Background(), key, "b")
	assert.True(t, ok)
}

func TestMemoryLedgerEvictsLazilyAndPrunes(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(time.Hour)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for _, id := range []string{"u1", "u2", "u3"} {
		ok, err := l.Claim(ctx, DedupKey{UserID: id, CallType: models.CallTypeDailyReckoning, LocalDate: "2026-03-01"}, id)
		require.NoError(t, err)
		require.True(t, ok)
	}

	now = now.Add(2 * time.Hour)
	fresh := DedupKey{UserID: "u4", CallType: models.CallTypeDailyReckoning, LocalDate: "2026-03-01"}
	ok, err := l.Claim(ctx, fresh, "u4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, l.Len(), "claiming one key leaves other expired keys alone")

	_, found, err := l.Lookup(ctx, DedupKey{UserID: "u1", CallType: models.CallTypeDailyReckoning, LocalDate: "2026-03-01"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 3, l.Len(), "an expired key is dropped when looked up")

	n, err := l.Prune(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, l.Len())

	_, found, err = l.Lookup(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, found)
}
