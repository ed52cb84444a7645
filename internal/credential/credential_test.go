package credential

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	mu      sync.Mutex
	byKey   map[string]*Credential
	byIP    map[string]*Credential
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: make(map[string]*Credential), byIP: make(map[string]*Credential)}
}

func (f *fakeStore) GetByKey(ctx context.Context, key string) (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetByIP(ctx context.Context, ip string) (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byIP[ip]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) Create(ctx context.Context, c *Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.byKey[c.Key] = &cp
	f.byIP[c.CallerIP] = &cp
	return nil
}

func (f *fakeStore) Touch(ctx context.Context, key string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byKey[key]; ok {
		c.LastUsedAt = at
	}
	return nil
}

func (f *fakeStore) Revoke(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byKey[key]
	if !ok {
		return false, nil
	}
	c.Active = false
	if ipCred, ok := f.byIP[c.CallerIP]; ok {
		ipCred.Active = false
	}
	return true, nil
}

func TestForIPCreatesCredentialOnFirstRequest(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	m := NewManager(newFakeStore(), NewMemoryDistributedCache(), logger)
	defer m.Destroy()

	cred, err := m.ForIP(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Len(t, cred.Key, 64)
	assert.Equal(t, CallerID("1.2.3.4"), cred.CallerID)
}

func TestForIPReturnsExistingCredential(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	m := NewManager(newFakeStore(), NewMemoryDistributedCache(), logger)
	defer m.Destroy()

	first, err := m.ForIP(context.Background(), "1.2.3.4")
	require.NoError(t, err)

	second, err := m.ForIP(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, first.Key, second.Key)
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	m := NewManager(newFakeStore(), NewMemoryDistributedCache(), logger)
	defer m.Destroy()

	_, err := m.Validate(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestRevokeInvalidatesAllCacheTiers(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	m := NewManager(newFakeStore(), NewMemoryDistributedCache(), logger)
	defer m.Destroy()

	cred, err := m.ForIP(context.Background(), "5.6.7.8")
	require.NoError(t, err)

	found, err := m.Revoke(context.Background(), cred.Key)
	require.NoError(t, err)
	assert.True(t, found)

	_, err = m.Validate(context.Background(), cred.Key)
	assert.Error(t, err)

	second, err := m.ForIP(context.Background(), "5.6.7.8")
	require.NoError(t, err)
	assert.False(t, second.Active)
}
