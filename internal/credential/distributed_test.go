package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	valkeymock "github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

func TestValkeyDistributedCacheGetMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := valkeymock.NewClient(ctrl)
	c := NewValkeyDistributedCache(mockClient)
	ctx := context.Background()

	mockClient.EXPECT().
		Do(ctx, valkeymock.Match("GET", "credential:key:nonexistent")).
		Return(valkeymock.Result(valkeymock.ValkeyNil()))

	cred, hit, err := c.Get(ctx, "credential:key:nonexistent")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, cred)
}

func TestValkeyDistributedCacheSetThenGet(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := valkeymock.NewClient(ctrl)
	c := NewValkeyDistributedCache(mockClient)
	ctx := context.Background()

	cred := &Credential{Key: "k1", CallerIP: "1.2.3.4", CallerID: CallerID("1.2.3.4"), Active: true}

	var stored string
	mockClient.EXPECT().
		Do(ctx, valkeymock.MatchFn(func(cmd []string) bool {
			if cmd[0] != "SET" || cmd[1] != "credential:key:k1" {
				return false
			}
			stored = cmd[2]
			return true
		}, "SET credential:key:k1 with TTL")).
		Return(valkeymock.Result(valkeymock.ValkeyString("OK")))

	require.NoError(t, c.Set(ctx, "credential:key:k1", cred, 30*time.Minute))
	require.NotEmpty(t, stored)

	mockClient.EXPECT().
		Do(ctx, valkeymock.Match("GET", "credential:key:k1")).
		Return(valkeymock.Result(valkeymock.ValkeyString(stored)))

	got, hit, err := c.Get(ctx, "credential:key:k1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, cred.Key, got.Key)
	assert.Equal(t, cred.CallerIP, got.CallerIP)
}

func TestValkeyDistributedCacheDelete(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := valkeymock.NewClient(ctrl)
	c := NewValkeyDistributedCache(mockClient)
	ctx := context.Background()

	mockClient.EXPECT().
		Do(ctx, valkeymock.Match("DEL", "credential:key:k1")).
		Return(valkeymock.Result(valkeymock.ValkeyInt64(1)))

	require.NoError(t, c.Delete(ctx, "credential:key:k1"))
}

func TestMemoryDistributedCacheRoundTrip(t *testing.T) {
	c := NewMemoryDistributedCache()
	ctx := context.Background()
	cred := &Credential{Key: "k1", CallerIP: "1.2.3.4", Active: true}

	_, hit, err := c.Get(ctx, "credential:key:k1")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "credential:key:k1", cred, time.Minute))

	got, hit, err := c.Get(ctx, "credential:key:k1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, cred.Key, got.Key)

	require.NoError(t, c.Delete(ctx, "credential:key:k1"))
	_, hit, err = c.Get(ctx, "credential:key:k1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryDistributedCacheExpires(t *testing.T) {
	c := NewMemoryDistributedCache()
	ctx := context.Background()
	cred := &Credential{Key: "k1", Active: true}

	require.NoError(t, c.Set(ctx, "credential:key:k1", cred, -time.Second))

	_, hit, err := c.Get(ctx, "credential:key:k1")
	require.NoError(t, err)
	assert.False(t, hit, "entry with a TTL already in the past should not be returned")
}
