package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) record(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

func newTestBreaker(clock *fakeClock, rec *recorder) *Breaker {
	cfg := Config{
		Name:             "classifier",
		FailureThreshold: 3,
		LatencyThreshold: 500 * time.Millisecond,
		Cooldown:         30 * time.Second,
		Now:              clock.Now,
	}
	if rec != nil {
		cfg.OnStateChange = rec.record
	}
	return New(cfg)
}

var errBoom = errors.New("boom")

func fail(b *Breaker) {
	a, ok := b.Allow()
	if ok {
		b.Done(a, errBoom, time.Millisecond)
	}
}

func succeed(b *Breaker) {
	a, ok := b.Allow()
	if ok {
		b.Done(a, nil, time.Millisecond)
	}
}

func TestBreakerClosed(t *testing.T) {
	t.Run("should stay closed below the failure threshold", func(t *testing.T) {
		b := newTestBreaker(newFakeClock(), nil)

		fail(b)
		fail(b)

		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, 2, b.Failures())
	})

	t.Run("should open on the third consecutive failure", func(t *testing.T) {
		rec := &recorder{}
		b := newTestBreaker(newFakeClock(), rec)

		fail(b)
		fail(b)
		fail(b)

		assert.Equal(t, StateOpen, b.State())
		assert.Equal(t, []State{StateOpen}, rec.states())
	})

	t.Run("should reset the counter on success", func(t *testing.T) {
		b := newTestBreaker(newFakeClock(), nil)

		fail(b)
		fail(b)
		succeed(b)
		fail(b)
		fail(b)

		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, 2, b.Failures())
	})

	t.Run("should count slow successes as failures", func(t *testing.T) {
		b := newTestBreaker(newFakeClock(), nil)

		for i := 0; i < 3; i++ {
			a, ok := b.Allow()
			require.True(t, ok)
			b.Done(a, nil, 600*time.Millisecond)
		}

		assert.Equal(t, StateOpen, b.State())
	})
}

func TestBreakerOpen(t *testing.T) {
	t.Run("should reject calls during cooldown", func(t *testing.T) {
		clock := newFakeClock()
		b := newTestBreaker(clock, nil)
		fail(b)
		fail(b)
		fail(b)

		clock.Advance(29 * time.Second)
		_, ok := b.Allow()

		assert.False(t, ok)
		assert.Equal(t, StateOpen, b.State())
	})

	t.Run("should not invoke the primary while open", func(t *testing.T) {
		b := newTestBreaker(newFakeClock(), nil)
		fail(b)
		fail(b)
		fail(b)

		var invoked int32
		_, err := Call(context.Background(), b, func(context.Context) (string, error) {
			atomic.AddInt32(&invoked, 1)
			return "Technical", nil
		})

		assert.ErrorIs(t, err, ErrOpen)
		assert.Equal(t, int32(0), atomic.LoadInt32(&invoked))
	})
}

func TestBreakerHalfOpen(t *testing.T) {
	open := func(clock *fakeClock, rec *recorder) *Breaker {
		b := newTestBreaker(clock, rec)
		fail(b)
		fail(b)
		fail(b)
		clock.Advance(30 * time.Second)
		return b
	}

	t.Run("should admit one probe after cooldown", func(t *testing.T) {
		clock := newFakeClock()
		b := open(clock, nil)

		probe, ok := b.Allow()
		require.True(t, ok)
		assert.True(t, probe.Probe())
		assert.Equal(t, StateHalfOpen, b.State())

		_, ok = b.Allow()
		assert.False(t, ok, "concurrent caller must use the fallback")
	})

	t.Run("should close after a successful probe", func(t *testing.T) {
		clock := newFakeClock()
		rec := &recorder{}
		b := open(clock, rec)

		probe, ok := b.Allow()
		require.True(t, ok)
		b.Done(probe, nil, 10*time.Millisecond)

		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, 0, b.Failures())
		assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, rec.states())
	})

	t.Run("should reopen and restart cooldown after a failed probe", func(t *testing.T) {
		clock := newFakeClock()
		b := open(clock, nil)

		probe, ok := b.Allow()
		require.True(t, ok)
		b.Done(probe, errBoom, 10*time.Millisecond)
		assert.Equal(t, StateOpen, b.State())

		clock.Advance(29 * time.Second)
		_, ok = b.Allow()
		assert.False(t, ok)

		clock.Advance(time.Second)
		_, ok = b.Allow()
		assert.True(t, ok)
	})

	t.Run("should let exactly one concurrent caller probe", func(t *testing.T) {
		clock := newFakeClock()
		b := open(clock, nil)

		var admitted int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := b.Allow(); ok {
					atomic.AddInt32(&admitted, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&admitted))
	})

	t.Run("should release the probe slot when the caller aborts", func(t *testing.T) {
		clock := newFakeClock()
		b := open(clock, nil)

		probe, ok := b.Allow()
		require.True(t, ok)
		b.Abort(probe)

		assert.Equal(t, StateHalfOpen, b.State())
		_, ok = b.Allow()
		assert.True(t, ok)
	})
}

func TestBreakerStaleResults(t *testing.T) {
	t.Run("should ignore failures admitted before a transition", func(t *testing.T) {
		clock := newFakeClock()
		b := newTestBreaker(clock, nil)

		stale, ok := b.Allow()
		require.True(t, ok)
		fail(b)
		fail(b)
		fail(b)
		require.Equal(t, StateOpen, b.State())

		clock.Advance(30 * time.Second)
		probe, ok := b.Allow()
		require.True(t, ok)

		b.Done(stale, errBoom, time.Millisecond)
		assert.Equal(t, StateHalfOpen, b.State())

		b.Done(probe, nil, time.Millisecond)
		assert.Equal(t, StateClosed, b.State())
	})
}

func TestCall(t *testing.T) {
	t.Run("should return the primary value", func(t *testing.T) {
		b := newTestBreaker(newFakeClock(), nil)

		got, err := Call(context.Background(), b, func(context.Context) (string, error) {
			return "Billing", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "Billing", got)
		assert.Equal(t, int64(1), b.Stats().CallsPrimary)
	})

	t.Run("should abandon a stalled primary at the latency threshold", func(t *testing.T) {
		b := New(Config{FailureThreshold: 3, LatencyThreshold: 20 * time.Millisecond, Cooldown: time.Second})
		cancelled := make(chan struct{})

		start := time.Now()
		_, err := Call(context.Background(), b, func(ctx context.Context) (string, error) {
			<-ctx.Done()
			close(cancelled)
			return "", ctx.Err()
		})

		assert.ErrorIs(t, err, ErrLatencyExceeded)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, 1, b.Failures())
		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatal("primary context was not cancelled")
		}
	})

	t.Run("should not count caller cancellation against the primary", func(t *testing.T) {
		b := newTestBreaker(newFakeClock(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := Call(ctx, b, func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, b.Failures())
	})
}

func TestBreakerStats(t *testing.T) {
	b := newTestBreaker(newFakeClock(), nil)
	for i := 0; i < 25; i++ {
		a, ok := b.Allow()
		require.True(t, ok)
		b.Done(a, nil, time.Duration(i+1)*time.Millisecond)
	}
	fail(b)

	stats := b.Stats()
	assert.Equal(t, "CLOSED", stats.State)
	assert.Equal(t, int64(26), stats.CallsTotal)
	assert.Equal(t, int64(25), stats.CallsPrimary)
	assert.Equal(t, int64(1), stats.CallsFallback)
	assert.InDelta(t, 13.0, stats.AvgLatencyMs, 0.001)
	assert.InDelta(t, 24.0, stats.P95LatencyMs, 0.001)
}
