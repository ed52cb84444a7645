package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// MemoryWindowCounter is the in-process WindowCounter fallback used when no
// distributed store is configured.
type MemoryWindowCounter struct {
	mu      sync.Mutex
	clock   clock.Clock
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	expiresAt time.Time
	count     int64
}

// NewMemoryWindowCounter returns a ready-to-use MemoryWindowCounter.
func NewMemoryWindowCounter() *MemoryWindowCounter {
	return newMemoryWindowCounterWithClock(clock.New())
}

// newMemoryWindowCounterWithClock is NewMemoryWindowCounter with an
// injectable clock, so window-rollover tests can advance time
// deterministically instead of sleeping.
func newMemoryWindowCounterWithClock(clk clock.Clock) *MemoryWindowCounter {
	return &MemoryWindowCounter{clock: clk, buckets: make(map[string]*memoryBucket)}
}

func (m *MemoryWindowCounter) IncrAndGet(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	b, ok := m.buckets[key]
	if !ok || now.After(b.expiresAt) {
		b = &memoryBucket{expiresAt: now.Add(window)}
		m.buckets[key] = b
	}
	b.count++
	return b.count, b.expiresAt.Sub(now), nil
}
