package coord

import (
	"context"
	"time"
)

// AcquireLock tries to take the lock named key for ttl. It returns true when
// the caller now holds it, and also when the store is unavailable.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) bool {
	if !c.Available() {
		c.failOpen("acquire_lock")
		return true
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	ok, err := c.rdb.SetNX(ctx, lockPrefix+key, "1", ttl).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("acquire lock failed, proceeding unlocked")
		c.failOpen("acquire_lock")
		return true
	}
	return ok
}

// ReleaseLock deletes the lock. Errors are logged and ignored; an unreleased
// lock expires with its ttl.
func (c *Client) ReleaseLock(ctx context.Context, key string) {
	if !c.Available() {
		return
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.rdb.Del(ctx, lockPrefix+key).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("release lock failed")
	}
}
