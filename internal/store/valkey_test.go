package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	valkeymock "github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

func TestValkeyStoreIncr(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := valkeymock.NewClient(ctrl)
	s := NewValkeyStore(mockClient)
	ctx := context.Background()

	mockClient.EXPECT().
		Do(ctx, valkeymock.Match("INCRBY", "stats:requests:total", "1")).
		Return(valkeymock.Result(valkeymock.ValkeyInt64(1)))

	v, err := s.Incr(ctx, "stats:requests:total", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestValkeyStoreHGetAllMissingKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := valkeymock.NewClient(ctrl)
	s := NewValkeyStore(mockClient)
	ctx := context.Background()

	mockClient.EXPECT().
		Do(ctx, valkeymock.Match("HGETALL", "api:stats:text")).
		Return(valkeymock.Result(valkeymock.ValkeyNil()))

	all, err := s.HGetAll(ctx, "api:stats:text")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestValkeyStoreLRangeMissingKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := valkeymock.NewClient(ctrl)
	s := NewValkeyStore(mockClient)
	ctx := context.Background()

	mockClient.EXPECT().
		Do(ctx, valkeymock.Match("LRANGE", "stats:latency:all", "0", "9")).
		Return(valkeymock.Result(valkeymock.ValkeyNil()))

	vals, err := s.LRange(ctx, "stats:latency:all", 0, 9)
	require.NoError(t, err)
	assert.Nil(t, vals)
}

func TestValkeyStoreMGetEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := valkeymock.NewClient(ctrl)
	s := NewValkeyStore(mockClient)
	ctx := context.Background()

	vals, err := s.MGet(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, vals)
}

func TestValkeyStoreReadyPropagatesError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := valkeymock.NewClient(ctrl)
	s := NewValkeyStore(mockClient)
	ctx := context.Background()

	mockClient.EXPECT().
		Do(ctx, valkeymock.Match("PING")).
		Return(valkeymock.ErrorResult(fmt.Errorf("connection refused")))

	err := s.Ready(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady)
}
