// Package ratelimit provides the two admission gates in front of a turn:
// a per-character token bucket and the global LLM concurrency semaphore.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Idle buckets are reclaimed after this long without a turn.
	bucketIdleTTL = 10 * time.Minute
	// Reclaim sweep cadence; the sweep runs inline under the map lock.
	sweepInterval = time.Minute
)

// CharacterLimiter admits at most rate turns per second per character, with
// burst capacity equal to the rate. Rejections are immediate; the caller
// surfaces the returned retry-after instead of queuing.
type CharacterLimiter struct {
	perSecond float64
	burst     int

	mu        sync.Mutex
	buckets   map[string]*bucketEntry
	lastSweep time.Time

	nowFunc func() time.Time
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewCharacterLimiter creates a limiter admitting perSecond turns per
// character. Values below 1/s still get a burst of one token.
func NewCharacterLimiter(perSecond float64) *CharacterLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := int(math.Ceil(perSecond))
	if burst < 1 {
		burst = 1
	}
	return &CharacterLimiter{
		perSecond: perSecond,
		burst:     burst,
		buckets:   make(map[string]*bucketEntry),
		nowFunc:   time.Now,
	}
}

// Allow reports whether a turn for the character may start now. When the
// bucket is empty it returns false and the seconds until one token becomes
// available.
func (l *CharacterLimiter) Allow(characterID string) (bool, float64) {
	now := l.nowFunc()

	l.mu.Lock()
	entry, ok := l.buckets[characterID]
	if !ok {
		entry = &bucketEntry{
			limiter: rate.NewLimiter(rate.Limit(l.perSecond), l.burst),
		}
		l.buckets[characterID] = entry
	}
	entry.lastSeen = now
	l.sweepLocked(now)
	l.mu.Unlock()

	res := entry.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, 1 / l.perSecond
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, delay.Seconds()
}

// Size returns the number of tracked buckets.
func (l *CharacterLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweepLocked drops buckets idle past the TTL. Called with l.mu held.
func (l *CharacterLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for id, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > bucketIdleTTL {
			delete(l.buckets, id)
		}
	}
}
