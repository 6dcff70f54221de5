package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the limiter's notion of time in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
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

func newTestLimiter(perSecond float64) (*CharacterLimiter, *fakeClock) {
	l := NewCharacterLimiter(perSecond)
	clock := newFakeClock()
	l.nowFunc = clock.Now
	return l, clock
}

func TestCharacterLimiter_AdmitsWithinBurst(t *testing.T) {
	l, _ := newTestLimiter(2)

	ok, retry := l.Allow("char-1")
	require.True(t, ok)
	assert.Zero(t, retry)

	ok, _ = l.Allow("char-1")
	require.True(t, ok)

	ok, retry = l.Allow("char-1")
	require.False(t, ok, "third turn within the same instant must be rejected")
	assert.Greater(t, retry, 0.0)
}

func TestCharacterLimiter_RetryAfter(t *testing.T) {
	l, clock := newTestLimiter(2)

	// Consume the full burst, then retry 100ms later.
	l.Allow("char-1")
	l.Allow("char-1")
	clock.Advance(100 * time.Millisecond)

	ok, retry := l.Allow("char-1")
	require.False(t, ok)
	// 0.2 tokens refilled after 100ms; 0.8 tokens remain at 2/s.
	assert.InDelta(t, 0.4, retry, 0.05)
}

func TestCharacterLimiter_RefillOverTime(t *testing.T) {
	l, clock := newTestLimiter(2)

	l.Allow("char-1")
	l.Allow("char-1")
	ok, _ := l.Allow("char-1")
	require.False(t, ok)

	clock.Advance(time.Second)
	ok, retry := l.Allow("char-1")
	require.True(t, ok, "bucket should refill after a second")
	assert.Zero(t, retry)
}

func TestCharacterLimiter_IndependentCharacters(t *testing.T) {
	l, _ := newTestLimiter(1)

	ok, _ := l.Allow("char-a")
	require.True(t, ok)
	ok, _ = l.Allow("char-a")
	require.False(t, ok)

	// A different character has its own bucket.
	ok, _ = l.Allow("char-b")
	require.True(t, ok)
}

func TestCharacterLimiter_AcceptanceBudget(t *testing.T) {
	const (
		perSecond = 2.0
		seconds   = 10
		step      = 50 * time.Millisecond
	)
	l, clock := newTestLimiter(perSecond)

	accepted := 0
	steps := int(time.Duration(seconds) * time.Second / step)
	for i := 0; i < steps; i++ {
		if ok, _ := l.Allow("char-1"); ok {
			accepted++
		}
		clock.Advance(step)
	}

	// Acceptances over any window are bounded by refill plus capacity.
	budget := int(math.Ceil(perSecond*seconds)) + int(math.Ceil(perSecond))
	assert.LessOrEqual(t, accepted, budget)
	// And the limiter must not starve a polite caller.
	assert.GreaterOrEqual(t, accepted, int(perSecond*seconds)-1)
}

func TestCharacterLimiter_IdleReclaim(t *testing.T) {
	l, clock := newTestLimiter(2)

	l.Allow("char-old")
	require.Equal(t, 1, l.Size())

	// Past the idle TTL, a sweep triggered by any call drops the stale
	// bucket while keeping the active one.
	clock.Advance(bucketIdleTTL + sweepInterval)
	l.Allow("char-new")
	assert.Equal(t, 1, l.Size())

	_, hasOld := l.buckets["char-old"]
	assert.False(t, hasOld)
	_, hasNew := l.buckets["char-new"]
	assert.True(t, hasNew)
}

func TestCharacterLimiter_ZeroRateDefaults(t *testing.T) {
	l := NewCharacterLimiter(0)
	ok, _ := l.Allow("char-1")
	assert.True(t, ok)
}

func TestCharacterLimiter_ConcurrentAccess(t *testing.T) {
	l := NewCharacterLimiter(100)
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Allow("shared")
				l.Allow("other")
			}
		}(i)
	}
	wg.Wait()
}

func TestLLMGate_Bounds(t *testing.T) {
	g := NewLLMGate(2)
	require.EqualValues(t, 2, g.Capacity())

	require.True(t, g.TryAcquire())
	require.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire(), "third permit must not be granted")

	g.Release()
	assert.True(t, g.TryAcquire())

	g.Release()
	g.Release()
}

func TestLLMGate_AcquireBlocksUntilRelease(t *testing.T) {
	g := NewLLMGate(1)
	require.NoError(t, g.Acquire(context.Background()))

	acquired := make(chan struct{})
	go func() {
		if err := g.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while permit is held")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
	g.Release()
}

func TestLLMGate_ContextDeadline(t *testing.T) {
	g := NewLLMGate(1)
	require.NoError(t, g.Acquire(context.Background()))
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.Error(t, err, "acquire must give up at the caller's deadline")
}

func TestLLMGate_MinimumCapacity(t *testing.T) {
	g := NewLLMGate(0)
	assert.EqualValues(t, 1, g.Capacity())
}

func BenchmarkCharacterLimiter_Allow(b *testing.B) {
	l := NewCharacterLimiter(1000)
	ids := make([]string, 64)
	for i := range ids {
		ids[i] = fmt.Sprintf("char-%d", i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow(ids[i%len(ids)])
	}
}
