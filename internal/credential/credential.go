// Package credential implements a two-layer credential cache in front of a
// durable store: a sub-millisecond in-process cache (cache.Cache) fronting a
// cross-process DistributedCache (Valkey-backed, or in-process when no
// Valkey endpoint is configured), which in turn fronts the durable
// relational Store (internal/rollupdb). Lookup-by-key and lookup-by-IP are
// independent entries at every tier, and revoke invalidates all three.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanolja/modgate/internal/apierr"
	"github.com/yanolja/modgate/internal/cache"
)

// Credential is a caller's API key record.
type Credential struct {
	Key        string    `json:"key"`
	CallerIP   string    `json:"callerIp"`
	CallerID   string    `json:"callerId"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	Active     bool      `json:"active"`
}

// Store is the durable tier: a relational table keyed uniquely by both key
// and IP. Implemented by internal/rollupdb.
type Store interface {
	GetByKey(ctx context.Context, key string) (*Credential, error)
	GetByIP(ctx context.Context, ip string) (*Credential, error)
	Create(ctx context.Context, c *Credential) error
	Touch(ctx context.Context, key string, at time.Time) error
	Revoke(ctx context.Context, key string) (bool, error)
}

const inProcessTTL = 3 * time.Minute

// Manager is the three-tier credential cache the pipeline authenticates
// against: in-process cache, distributed cache, durable store.
type Manager struct {
	store      Store
	distrib    DistributedCache
	byKeyCache *cache.Cache
	byIPCache  *cache.Cache
	logger     *zap.SugaredLogger
}

// NewManager builds a Manager over store and distrib, with both in-process
// caches sized for a 2-5 minute lifetime and distrib holding the longer,
// cross-process lifetime (distributedTTL).
func NewManager(store Store, distrib DistributedCache, logger *zap.SugaredLogger) *Manager {
	opts := cache.DefaultOptions("credential")
	opts.DefaultTTL = inProcessTTL
	opts.MaxEntries = 50_000
	opts.CompressionEnabled = false

	byKeyOpts := opts
	byKeyOpts.Name = "credential-by-key"
	byIPOpts := opts
	byIPOpts.Name = "credential-by-ip"

	return &Manager{
		store:      store,
		distrib:    distrib,
		byKeyCache: cache.New(byKeyOpts, logger),
		byIPCache:  cache.New(byIPOpts, logger),
		logger:     logger,
	}
}

// Destroy stops both in-process caches' maintenance goroutines.
func (m *Manager) Destroy() {
	m.byKeyCache.Destroy()
	m.byIPCache.Destroy()
}

// GenerateKey returns a fresh opaque 64-character hex credential key: two
// random UUIDs with their dashes stripped, concatenated.
func GenerateKey() (string, error) {
	return strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", ""), nil
}

// CallerID deterministically hashes an IP into the opaque identifier used
// in counters and rollups.
func CallerID(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:16]
}

// ForIP returns the active credential for ip, creating one if none exists.
func (m *Manager) ForIP(ctx context.Context, ip string) (*Credential, error) {
	var cached Credential
	if hit, err := m.byIPCache.Get(ipCacheKey(ip), &cached); err == nil && hit {
		return &cached, nil
	}

	if cred, hit, err := m.distrib.Get(ctx, ipDistribKey(ip)); err == nil && hit {
		m.populateInProcess(cred)
		return cred, nil
	}

	cred, err := m.store.GetByIP(ctx, ip)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "credential: lookup by ip failed", err)
	}
	if cred == nil {
		cred = &Credential{
			CallerIP:  ip,
			CallerID:  CallerID(ip),
			CreatedAt: time.Now(),
			Active:    true,
		}
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		cred.Key = key
		if err := m.store.Create(ctx, cred); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "credential: create failed", err)
		}
	}

	m.populate(ctx, cred)
	return cred, nil
}

// Validate looks up key, touching last-used-at on success. Returns
// apierr.KindAuth when key is absent or revoked.
func (m *Manager) Validate(ctx context.Context, key string) (*Credential, error) {
	var cached Credential
	if hit, err := m.byKeyCache.Get(keyCacheKey(key), &cached); err == nil && hit {
		if !cached.Active {
			return nil, apierr.New(apierr.KindAuth, "credential revoked")
		}
		return &cached, nil
	}

	if cred, hit, err := m.distrib.Get(ctx, keyDistribKey(key)); err == nil && hit {
		if !cred.Active {
			return nil, apierr.New(apierr.KindAuth, "credential revoked")
		}
		m.populateInProcess(cred)
		return cred, nil
	}

	cred, err := m.store.GetByKey(ctx, key)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "credential: lookup by key failed", err)
	}
	if cred == nil || !cred.Active {
		return nil, apierr.New(apierr.KindAuth, "invalid or missing credential")
	}

	cred.LastUsedAt = time.Now()
	if err := m.store.Touch(ctx, key, cred.LastUsedAt); err != nil {
		m.logger.Warnw("credential: touch failed", "error", err)
	}
	m.populate(ctx, cred)
	return cred, nil
}

// Revoke deactivates key in the durable store and invalidates all three
// cache tiers, so a revoked key stops authenticating within the in-process
// TTL at the very latest. callerIP is resolved from whichever tier has it
// (in-process, then distributed, then the durable store itself) so the
// by-IP entry is invalidated too, even when the by-key entry was never
// cached locally.
func (m *Manager) Revoke(ctx context.Context, key string) (bool, error) {
	callerIP, haveIP := m.resolveCallerIP(ctx, key)

	found, err := m.store.Revoke(ctx, key)
	if err != nil {
		return false, apierr.Wrap(apierr.KindInternal, "credential: revoke failed", err)
	}
	if !found {
		return false, nil
	}

	m.byKeyCache.Delete(keyCacheKey(key))
	if err := m.distrib.Delete(ctx, keyDistribKey(key)); err != nil {
		m.logger.Warnw("credential: distributed cache invalidation by key failed", "error", err)
	}
	if haveIP {
		m.byIPCache.Delete(ipCacheKey(callerIP))
		if err := m.distrib.Delete(ctx, ipDistribKey(callerIP)); err != nil {
			m.logger.Warnw("credential: distributed cache invalidation by ip failed", "error", err)
		}
	}
	return true, nil
}

func (m *Manager) resolveCallerIP(ctx context.Context, key string) (string, bool) {
	var cached Credential
	if hit, err := m.byKeyCache.Get(keyCacheKey(key), &cached); err == nil && hit {
		return cached.CallerIP, true
	}
	if cred, hit, err := m.distrib.Get(ctx, keyDistribKey(key)); err == nil && hit {
		return cred.CallerIP, true
	}
	cred, err := m.store.GetByKey(ctx, key)
	if err != nil || cred == nil {
		return "", false
	}
	return cred.CallerIP, true
}

// populate fills both the distributed tier and the in-process tier, so a
// cold in-process cache on another replica still avoids the durable store.
func (m *Manager) populate(ctx context.Context, cred *Credential) {
	if err := m.distrib.Set(ctx, keyDistribKey(cred.Key), cred, distributedTTL); err != nil {
		m.logger.Warnw("credential: distributed cache populate by key failed", "error", err)
	}
	if err := m.distrib.Set(ctx, ipDistribKey(cred.CallerIP), cred, distributedTTL); err != nil {
		m.logger.Warnw("credential: distributed cache populate by ip failed", "error", err)
	}
	m.populateInProcess(cred)
}

func (m *Manager) populateInProcess(cred *Credential) {
	if err := m.byKeyCache.Set(keyCacheKey(cred.Key), cred, inProcessTTL); err != nil {
		m.logger.Warnw("credential: cache populate by key failed", "error", err)
	}
	if err := m.byIPCache.Set(ipCacheKey(cred.CallerIP), cred, inProcessTTL); err != nil {
		m.logger.Warnw("credential: cache populate by ip failed", "error", err)
	}
}

func keyCacheKey(key string) string { return "key:" + key }
func ipCacheKey(ip string) string   { return "ip:" + ip }

func keyDistribKey(key string) string { return "credential:key:" + key }
func ipDistribKey(ip string) string   { return "credential:ip:" + ip }
