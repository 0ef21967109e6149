package lock

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
)

type storeHarness struct {
	name    string
	store   Store
	advance func(time.Duration)
}

func harnesses(t *testing.T) []storeHarness {
	t.Helper()

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := NewMemoryStore(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return []storeHarness{
		{
			name:  "memory",
			store: mem,
			advance: func(d time.Duration) {
				mu.Lock()
				defer mu.Unlock()
				now = now.Add(d)
			},
		},
		{
			name:    "redis",
			store:   NewRedisStore(client),
			advance: mr.FastForward,
		},
	}
}

func TestLocker(t *testing.T) {
	for _, h := range harnesses(t) {
		h := h
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("should grant the lock once", func(t *testing.T) {
				locker := NewLocker(h.store, "lock:", time.Minute, nil)

				first, ok, err := locker.Acquire(ctx, "t-1", 0)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "lock:t-1", first.Key)

				_, ok, err = locker.Acquire(ctx, "t-1", 0)
				require.NoError(t, err)
				assert.False(t, ok)

				require.NoError(t, locker.Release(ctx, first))
				_, ok, err = locker.Acquire(ctx, "t-1", 0)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("should grant exactly one of two concurrent acquires", func(t *testing.T) {
				locker := NewLocker(h.store, "lock:", time.Minute, nil)

				var granted int32
				var wg sync.WaitGroup
				start := make(chan struct{})
				for i := 0; i < 2; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						_, ok, err := locker.Acquire(ctx, "t-race", 0)
						assert.NoError(t, err)
						if ok {
							atomic.AddInt32(&granted, 1)
						}
					}()
				}
				close(start)
				wg.Wait()

				assert.Equal(t, int32(1), atomic.LoadInt32(&granted))
			})

			t.Run("should let another worker take an expired lock", func(t *testing.T) {
				locker := NewLocker(h.store, "lock:", time.Minute, nil)

				stale, ok, err := locker.Acquire(ctx, "t-exp", 10*time.Second)
				require.NoError(t, err)
				require.True(t, ok)

				h.advance(11 * time.Second)

				fresh, ok, err := locker.Acquire(ctx, "t-exp", 10*time.Second)
				require.NoError(t, err)
				require.True(t, ok)

				assert.ErrorIs(t, locker.Release(ctx, stale), ErrNotOwner)
				assert.NoError(t, locker.Release(ctx, fresh))
			})

			t.Run("should reject empty ticket ids", func(t *testing.T) {
				locker := NewLocker(h.store, "lock:", time.Minute, nil)
				_, _, err := locker.Acquire(ctx, "", 0)
				assert.Error(t, err)
			})
		})
	}
}
