package ratelimit

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// LLMGate bounds concurrent model calls across all turns. Acquisition
// blocks until a permit is free or the caller's deadline elapses; the permit
// is held for the duration of the model call.
type LLMGate struct {
	sem      *semaphore.Weighted
	capacity int64
}

// NewLLMGate creates a gate admitting maxConcurrent simultaneous calls.
func NewLLMGate(maxConcurrent int) *LLMGate {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &LLMGate{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: int64(maxConcurrent),
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (g *LLMGate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire takes a permit without blocking, reporting success.
func (g *LLMGate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns a permit.
func (g *LLMGate) Release() {
	g.sem.Release(1)
}

// Capacity returns the configured permit count.
func (g *LLMGate) Capacity() int64 {
	return g.capacity
}
