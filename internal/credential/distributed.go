package credential

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

// distributedTTL is the longer, cross-process lifetime for the distributed
// cache tier, spec's "minutes to an hour" (longer than the in-process TTL,
// tolerating more staleness after a revoke in exchange for fewer store
// round-trips).
const distributedTTL = 30 * time.Minute

// DistributedCache is the second credential-cache tier: a store shared
// across processes, fronting the durable relational Store the same way
// internal/ratelimit.WindowCounter fronts its own distributed counter.
type DistributedCache interface {
	Get(ctx context.Context, key string) (*Credential, bool, error)
	Set(ctx context.Context, key string, cred *Credential, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ValkeyDistributedCache implements DistributedCache over a valkey.Client,
// mirroring internal/ratelimit.ValkeyWindowCounter's direct-command-builder
// shape rather than going through internal/store.CounterStore, since
// CounterStore's Set has no TTL argument and credential entries must expire.
type ValkeyDistributedCache struct {
	client valkey.Client
}

// NewValkeyDistributedCache wraps an already-constructed valkey.Client.
func NewValkeyDistributedCache(client valkey.Client) *ValkeyDistributedCache {
	return &ValkeyDistributedCache{client: client}
}

func (v *ValkeyDistributedCache) Get(ctx context.Context, key string) (*Credential, bool, error) {
	resp := v.client.Do(ctx, v.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	raw, err := resp.AsBytes()
	if err != nil {
		return nil, false, err
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, false, err
	}
	return &cred, true, nil
}

func (v *ValkeyDistributedCache) Set(ctx context.Context, key string, cred *Credential, ttl time.Duration) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return v.client.Do(ctx, v.client.B().Set().Key(key).Value(valkey.BinaryString(raw)).Ex(ttl).Build()).Error()
}

func (v *ValkeyDistributedCache) Delete(ctx context.Context, key string) error {
	return v.client.Do(ctx, v.client.B().Del().Key(key).Build()).Error()
}

// memoryDistributedCache is the in-process fallback used when no Valkey
// endpoint is configured, so the two-layer lookup still works (both tiers
// just end up in-process) rather than the Manager needing a nil check at
// every call site.
type memoryDistributedCache struct {
	mu      sync.Mutex
	entries map[string]memoryDistributedEntry
}

type memoryDistributedEntry struct {
	cred      *Credential
	expiresAt time.Time
}

// NewMemoryDistributedCache returns a ready-to-use in-process
// DistributedCache fallback.
func NewMemoryDistributedCache() DistributedCache {
	return &memoryDistributedCache{entries: make(map[string]memoryDistributedEntry)}
}

func (m *memoryDistributedCache) Get(_ context.Context, key string) (*Credential, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.cred, true, nil
}

func (m *memoryDistributedCache) Set(_ context.Context, key string, cred *Credential, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryDistributedEntry{cred: cred, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *memoryDistributedCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
