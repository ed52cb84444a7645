// Package cache implements the generic in-process cache: pluggable
// eviction policies, byte-size accounting, optional
// compression of large payloads, periodic expiry sweeps, and hit/miss/
// eviction telemetry. Each instance has its own Options: the pipeline holds
// two (response cache, AI-result cache), the credential manager two (by-key
// and by-IP), and the query service one.
//
// Grounded on the established cache-manager shape (cache/cache.go,
// cache/strategies.go): the entry shape (CacheEntry with frequency/
// lastAccess/expiry/compressed fields), the background cleanup ticker, and
// the hit-rate/memory-usage stats struct all carry over. The single eviction
// strategy constant becomes a Policy value selecting one of four victim
// choices; the time-aware and hybrid formulas are small standalone score
// functions. Time
// is read through an injectable clock.Clock (github.com/benbjohnson/clock)
// rather than time.Now() directly, so expiry and eviction-scoring tests can
// advance time deterministically instead of sleeping.
package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Policy selects which entry to evict first when the cache is full.
type Policy string

const (
	PolicyLRU       Policy = "lru"
	PolicyLFU       Policy = "lfu"
	PolicyTimeAware Policy = "time_aware"
	PolicyHybrid    Policy = "hybrid"
)

// compressionThresholdBytes is the minimum serialized size before
// compression is attempted.
const compressionThresholdBytes = 1024

// Options configures a Cache instance.
type Options struct {
	Name               string
	Policy             Policy
	MaxEntries         int
	MaxBytes           int64
	DefaultTTL         time.Duration
	MaintenanceInterval time.Duration
	CompressionEnabled bool
}

// DefaultOptions returns sane defaults matching the established
// DefaultCacheConfig baseline.
func DefaultOptions(name string) Options {
	return Options{
		Name:                name,
		Policy:              PolicyHybrid,
		MaxEntries:          10_000,
		MaxBytes:            500 * 1024 * 1024,
		DefaultTTL:          time.Hour,
		MaintenanceInterval: 30 * time.Second,
		CompressionEnabled:  true,
	}
}

// entry is the in-memory cache record.
type entry struct {
	key        string
	payload    []byte
	compressed bool
	sizeBytes  int64
	expiresAt  time.Time
	createdAt  time.Time
	lastAccess time.Time
	frequency  int64

	// listElem links this entry into the LRU access-order list; kept
	// up to date on every Get so LRU eviction is O(1) to query (the other
	// policies scan every entry by score).
	listElem *list.Element
}

// Stats reports cache telemetry.
type Stats struct {
	Hits          int64
	Misses        int64
	Evictions     int64
	Entries       int
	TotalBytes    int64
	HitRate       float64
	MemoryUsageMB float64
}

// Cache is a byte-accounted, TTL-aware in-memory cache with pluggable
// eviction. All operations are safe for concurrent use.
type Cache struct {
	opts   Options
	logger *zap.SugaredLogger
	clock  clock.Clock
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder

	mu          sync.Mutex
	entries     map[string]*entry
	accessOrder *list.List // front = most recently used

	hits, misses, evictions int64
	totalBytes               int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Cache and starts its background maintenance goroutine.
func New(opts Options, logger *zap.SugaredLogger) *Cache {
	return newWithClock(opts, logger, clock.New())
}

// newWithClock is New with an injectable clock, so maintenance-sweep and
// expiry tests can advance time deterministically instead of sleeping.
func newWithClock(opts Options, logger *zap.SugaredLogger, clk clock.Clock) *Cache {
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = 30 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = PolicyHybrid
	}
	c := &Cache{
		opts:        opts,
		logger:      logger,
		clock:       clk,
		entries:     make(map[string]*entry),
		accessOrder: list.New(),
		stopCh:      make(chan struct{}),
	}
	if opts.CompressionEnabled {
		if enc, err := zstd.NewWriter(nil); err == nil {
			c.zstdEnc = enc
		}
		if dec, err := zstd.NewReader(nil); err == nil {
			c.zstdDec = dec
		}
	}
	c.wg.Add(1)
	go c.maintenanceLoop()
	return c
}

// Get looks up key. A miss is returned for an absent or expired entry;
// expired entries are removed as a side effect. A hit updates lastAccess,
// increments frequency, and moves the entry to the most-recently-used
// position.
func (c *Cache) Get(key string, out any) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return false, nil
	}
	if c.clock.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		c.mu.Unlock()
		return false, nil
	}
	e.frequency++
	e.lastAccess = c.clock.Now()
	c.accessOrder.MoveToFront(e.listElem)
	c.hits++
	payload := e.payload
	compressed := e.compressed
	c.mu.Unlock()

	raw, err := c.maybeDecompress(payload, compressed)
	if err != nil {
		return false, fmt.Errorf("cache %s: decompress %q: %w", c.opts.Name, key, err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("cache %s: unmarshal %q: %w", c.opts.Name, key, err)
		}
	}
	return true, nil
}

// Set stores value under key with the given ttl (or the cache's
// DefaultTTL when ttl <= 0). Before insertion, entries are evicted until
// both count and byte limits are satisfied.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache %s: marshal %q: %w", c.opts.Name, key, err)
	}

	payload, compressed := c.maybeCompress(raw)
	size := estimateSizeBytes(payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, exists := c.entries[key]; exists {
		c.removeLocked(old)
	}

	for (len(c.entries) >= c.opts.MaxEntries && c.opts.MaxEntries > 0) ||
		(c.opts.MaxBytes > 0 && c.totalBytes+size > c.opts.MaxBytes) {
		victim := c.pickVictimLocked()
		if victim == nil {
			break
		}
		c.removeLocked(victim)
	}

	now := c.clock.Now()
	e := &entry{
		key:        key,
		payload:    payload,
		compressed: compressed,
		sizeBytes:  size,
		expiresAt:  now.Add(ttl),
		createdAt:  now,
		lastAccess: now,
		frequency:  1,
	}
	e.listElem = c.accessOrder.PushFront(e)
	c.entries[key] = e
	c.totalBytes += size
	return nil
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.accessOrder = list.New()
	c.totalBytes = 0
}

// Stats returns a snapshot of cache telemetry.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Entries:       len(c.entries),
		TotalBytes:    c.totalBytes,
		HitRate:       hitRate,
		MemoryUsageMB: float64(c.totalBytes) / (1024 * 1024),
	}
}

// Destroy stops the background maintenance goroutine. The cache must not be
// used after Destroy returns.
func (c *Cache) Destroy() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Cache) maintenanceLoop() {
	defer c.wg.Done()
	ticker := c.clock.Ticker(c.opts.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(e)
		}
	}
}

// removeLocked deletes e from both the map and the access-order list. The
// caller must hold c.mu.
func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	if e.listElem != nil {
		c.accessOrder.Remove(e.listElem)
	}
	c.totalBytes -= e.sizeBytes
	c.evictions++
}

// pickVictimLocked selects the entry to evict per the configured Policy.
// The caller must hold c.mu and guarantee c.entries is non-empty.
func (c *Cache) pickVictimLocked() *entry {
	if len(c.entries) == 0 {
		return nil
	}
	now := c.clock.Now()
	switch c.opts.Policy {
	case PolicyLRU:
		return c.accessOrder.Back().Value.(*entry)
	case PolicyLFU:
		return c.minBy(func(e *entry) float64 { return float64(e.frequency) })
	case PolicyTimeAware:
		return c.maxBy(func(e *entry) float64 { return timeAwareScore(e, now) })
	default: // PolicyHybrid
		return c.maxBy(func(e *entry) float64 { return hybridScore(e, now) })
	}
}

func (c *Cache) minBy(score func(*entry) float64) *entry {
	var best *entry
	var bestScore float64
	for _, e := range c.entries {
		s := score(e)
		if best == nil || s < bestScore {
			best, bestScore = e, s
		}
	}
	return best
}

func (c *Cache) maxBy(score func(*entry) float64) *entry {
	var best *entry
	var bestScore float64
	for _, e := range c.entries {
		s := score(e)
		if best == nil || s > bestScore {
			best, bestScore = e, s
		}
	}
	return best
}

// timeAwareScore is the time-aware victim formula:
// ageRatio + 1/(frequency+1), where ageRatio = (now-created)/(expiry-created).
func timeAwareScore(e *entry, now time.Time) float64 {
	lifetime := e.expiresAt.Sub(e.createdAt).Seconds()
	var ageRatio float64
	if lifetime > 0 {
		ageRatio = now.Sub(e.createdAt).Seconds() / lifetime
	}
	return ageRatio + 1/float64(e.frequency+1)
}

// hybridScore is the default hybrid victim formula:
// 0.4*(1/(freq+1)) + 0.4*daysSinceAccess + 0.2*sizeMB.
func hybridScore(e *entry, now time.Time) float64 {
	daysSinceAccess := now.Sub(e.lastAccess).Hours() / 24
	sizeMB := float64(e.sizeBytes) / (1024 * 1024)
	return 0.4*(1/float64(e.frequency+1)) + 0.4*daysSinceAccess + 0.2*sizeMB
}

// estimateSizeBytes approximates the UTF-16 footprint of a serialized value.
// JSON payloads are ASCII-dominant so len(payload)*2 is a reasonable UTF-16
// code-unit estimate; values with no discernible size fall back to a 1KB
// default.
func estimateSizeBytes(payload []byte) int64 {
	if len(payload) == 0 {
		return 1024
	}
	return int64(len(payload)) * 2
}

// maybeCompress zstd-compresses payload when it reaches the threshold
// and doing so strictly reduces its size; otherwise payload is returned
// unchanged.
func (c *Cache) maybeCompress(payload []byte) ([]byte, bool) {
	if !c.opts.CompressionEnabled || len(payload) < compressionThresholdBytes || c.zstdEnc == nil {
		return payload, false
	}
	compressed := c.zstdEnc.EncodeAll(payload, nil)
	if len(compressed) >= len(payload) {
		return payload, false
	}
	return compressed, true
}

func (c *Cache) maybeDecompress(payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}
	if c.zstdDec == nil {
		return nil, fmt.Errorf("cache %s: compressed entry but no decoder configured", c.opts.Name)
	}
	return c.zstdDec.DecodeAll(payload, nil)
}
