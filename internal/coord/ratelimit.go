package coord

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] counter, ARGV[1] window in ms. The expiry is only set when the key
// has none, so later increments never extend the window.
var rateLimitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// CheckRateLimit counts one hit against key and reports whether it is within
// limit hits per window.
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) RateLimitResult {
	permissive := RateLimitResult{
		Allowed:   true,
		Remaining: limit,
		ResetAt:   c.now().Add(window),
	}

	if !c.Available() {
		c.failOpen("rate_limit")
		return permissive
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	vals, err := rateLimitScript.Run(ctx, c.rdb, []string{rateLimitPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		c.log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing")
		c.failOpen("rate_limit")
		return permissive
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitResult{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   c.now().Add(ttl),
	}
}
