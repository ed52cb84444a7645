package store

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// ValkeyStore implements CounterStore over a valkey.Client, mirroring
// state.ValkeyManager's direct-command-builder idiom.
type ValkeyStore struct {
	client valkey.Client
}

// NewValkeyStore wraps an already-constructed valkey.Client.
func NewValkeyStore(client valkey.Client) *ValkeyStore {
	return &ValkeyStore{client: client}
}

func (v *ValkeyStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	resp := v.client.Do(ctx, v.client.B().Incrby().Key(key).Increment(delta).Build())
	return resp.AsInt64()
}

func (v *ValkeyStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	resp := v.client.Do(ctx, v.client.B().Hincrby().Key(key).Field(field).Increment(delta).Build())
	return resp.AsInt64()
}

func (v *ValkeyStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	resp := v.client.Do(ctx, v.client.B().Hgetall().Key(key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return resp.AsStrMap()
}

func (v *ValkeyStore) LPushTrim(ctx context.Context, key, value string, maxLen int64) error {
	if err := v.client.Do(ctx, v.client.B().Lpush().Key(key).Element(value).Build()).Error(); err != nil {
		return err
	}
	return v.client.Do(ctx, v.client.B().Ltrim().Key(key).Start(0).Stop(maxLen-1).Build()).Error()
}

func (v *ValkeyStore) Trim(ctx context.Context, key string, maxLen int64) error {
	return v.client.Do(ctx, v.client.B().Ltrim().Key(key).Start(0).Stop(maxLen-1).Build()).Error()
}

func (v *ValkeyStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	resp := v.client.Do(ctx, v.client.B().Lrange().Key(key).Start(start).Stop(stop).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.AsStrSlice()
}

func (v *ValkeyStore) MGet(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	resp := v.client.Do(ctx, v.client.B().Mget().Key(keys...).Build())
	if err := resp.Error(); err != nil {
		return nil, err
	}
	arr, err := resp.ToArray()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(arr))
	for i, item := range arr {
		if s, err := item.ToString(); err == nil {
			out[i] = s
		}
	}
	return out, nil
}

func (v *ValkeyStore) Set(ctx context.Context, key, value string) error {
	return v.client.Do(ctx, v.client.B().Set().Key(key).Value(value).Build()).Error()
}

func (v *ValkeyStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		resp := v.client.Do(ctx, v.client.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return nil, err
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (v *ValkeyStore) Ready(ctx context.Context) error {
	if err := v.client.Do(ctx, v.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

func (v *ValkeyStore) Close() error {
	v.client.Close()
	return nil
}
