package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"
)

// valkeyWindowCounterScript atomically increments the fixed-window counter
// and sets its expiry only on the first increment of the window, so the
// bucket's TTL always reflects the remaining window lifetime regardless of
// how many times it is hit. Mirrors rate.Limiter's Lua-script idiom
// (rate/rate.go CanProceed), adapted from a disabled-until timestamp check
// to a counter increment.
const valkeyWindowCounterScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`

// ValkeyWindowCounter implements WindowCounter over a valkey.Client.
type ValkeyWindowCounter struct {
	client valkey.Client
}

// NewValkeyWindowCounter wraps an already-constructed valkey.Client.
func NewValkeyWindowCounter(client valkey.Client) *ValkeyWindowCounter {
	return &ValkeyWindowCounter{client: client}
}

func (v *ValkeyWindowCounter) IncrAndGet(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	resp := v.client.Do(ctx, v.client.B().Eval().Script(valkeyWindowCounterScript).Numkeys(1).Key(key).Arg(
		strconv.FormatInt(window.Milliseconds(), 10),
	).Build())

	result, err := resp.AsIntSlice()
	if err != nil {
		return 0, 0, err
	}
	if len(result) != 2 {
		return 0, 0, nil
	}
	return result[0], time.Duration(result[1]) * time.Millisecond, nil
}
