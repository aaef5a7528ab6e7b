package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter is an atomic increment-with-expiry store keyed by arbitrary string.
// IncrementAndGet returns the post-increment value and whether this call
// created the key. The increment must be indivisible across concurrent
// callers; a read-then-write pair is not an acceptable implementation.
type Counter interface {
	IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (count int64, first bool, err error)
}

// MemoryCounter is a process-local Counter for single-node installs and
// tests. Expired buckets are swept on the next increment; key sets stay
// small (one bucket per sender per hour), so the linear sweep is fine.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*memoryBucket)}
}

func (c *MemoryCounter) IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Hour-bucketed keys are never incremented again once their window
	// passes, so they must be dropped here or they accumulate forever.
	for k, b := range c.buckets {
		if now.After(b.expiresAt) {
			delete(c.buckets, k)
		}
	}

	b, ok := c.buckets[key]
	if !ok {
		c.buckets[key] = &memoryBucket{count: 1, expiresAt: now.Add(ttl)}
		return 1, true, nil
	}

	b.count++
	return b.count, false, nil
}
