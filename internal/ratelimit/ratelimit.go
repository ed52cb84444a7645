// Package ratelimit implements the fixed-window rate limiter: a local
// optimistic window cache fronting an authoritative
// distributed counter, using the same atomic check-and-set Lua script
// idiom as the rate limiter's disable-endpoint cousin, adapted from
// "disable an endpoint for a duration" to "count requests in a window".
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WindowCounter is the authoritative distributed side of the limiter: it
// increments the counter for a window bucket and reports the post-increment
// count plus the bucket's remaining lifetime.
type WindowCounter interface {
	IncrAndGet(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

type localEntry struct {
	bucketStart time.Time
	count       int64
}

// Limiter is a fixed-window limiter keyed by caller identifier and route.
type Limiter struct {
	counter WindowCounter
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	local map[string]*localEntry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Limiter backed by counter and starts a background sweep
// that evicts local window entries older than one hour.
func New(counter WindowCounter, logger *zap.SugaredLogger) *Limiter {
	l := &Limiter{
		counter: counter,
		logger:  logger,
		local:   make(map[string]*localEntry),
		stopCh:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.sweepLoop()
	return l
}

func (l *Limiter) sweepLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweepExpired(time.Hour)
		case <-l.stopCh:
			return
		}
	}
}

// Stop ends the background sweep goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// Allow checks whether identifier may proceed under limit requests per
// window. On a local cache hit, the authoritative INCR runs fire-and-forget
// in the background and the decision is made from the optimistic local
// count; on a miss, the synchronous distributed INCR is authoritative.
func (l *Limiter) Allow(ctx context.Context, identifier, route string, limit int64, window time.Duration) Decision {
	key := fmt.Sprintf("ratelimit:%s:%s", route, identifier)
	now := time.Now()
	bucketStart := now.Truncate(window)

	l.mu.Lock()
	entry, hit := l.local[key]
	if hit && entry.bucketStart.Equal(bucketStart) {
		entry.count++
		count := entry.count
		l.mu.Unlock()

		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, _, err := l.counter.IncrAndGet(bgCtx, key, window); err != nil {
				l.logger.Warnw("ratelimit: background incr failed", "key", key, "error", err)
			}
		}()

		return decide(count, limit, bucketStart, window)
	}
	l.mu.Unlock()

	count, ttl, err := l.counter.IncrAndGet(ctx, key, window)
	if err != nil {
		l.logger.Warnw("ratelimit: distributed incr failed, allowing request", "key", key, "error", err)
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	l.mu.Lock()
	l.local[key] = &localEntry{bucketStart: bucketStart, count: count}
	l.mu.Unlock()

	d := decide(count, limit, bucketStart, window)
	if ttl > 0 {
		d.RetryAfter = ttl
	}
	return d
}

func decide(count, limit int64, bucketStart time.Time, window time.Duration) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	allowed := count <= limit
	retryAfter := time.Until(bucketStart.Add(window))
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}
}

// sweepExpired removes local entries whose window started more than maxAge
// ago, taking l.mu itself. It runs periodically so the map does not grow
// unbounded across many distinct identifiers; it is not required for
// correctness since a stale bucketStart is simply overwritten on its next hit.
func (l *Limiter) sweepExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for k, e := range l.local {
		if e.bucketStart.Before(cutoff) {
			delete(l.local, k)
		}
	}
}
