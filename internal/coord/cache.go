package coord

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scanCount       = 100
	deleteBatchSize = 100
)

func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case json.RawMessage:
		return t, nil
	case string:
		return []byte(t), nil
	}
	return json.Marshal(v)
}

// CacheGet returns the raw value stored under the cache namespace. A miss and
// an unavailable store look the same to the caller.
func (c *Client) CacheGet(ctx context.Context, key string) ([]byte, bool) {
	if !c.Available() {
		c.failOpen("cache_get")
		return nil, false
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}
	return val, true
}

func (c *Client) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if !c.Available() {
		c.failOpen("cache_set")
		return false
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.rdb.Set(ctx, cachePrefix+key, value, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		return false
	}
	return true
}

func (c *Client) CacheDelete(ctx context.Context, key string) bool {
	if !c.Available() {
		c.failOpen("cache_delete")
		return false
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.rdb.Del(ctx, cachePrefix+key).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache delete failed")
		return false
	}
	return true
}

// CacheDeletePattern removes every cache key matching the glob pattern and
// returns how many were deleted. Keys are enumerated with SCAN so the store is
// never blocked by a keyspace-wide command.
func (c *Client) CacheDeletePattern(ctx context.Context, pattern string) int {
	if !c.Available() {
		c.failOpen("cache_delete_pattern")
		return 0
	}

	keys, err := c.scan(ctx, cachePrefix+pattern)
	if err != nil {
		c.log.Warn().Err(err).Str("pattern", pattern).Msg("cache pattern scan failed")
	}

	deleted := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))

		dctx, cancel := c.opContext(ctx)
		n, err := c.rdb.Del(dctx, keys[start:end]...).Result()
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Str("pattern", pattern).Msg("cache pattern delete failed")
			break
		}
		deleted += int(n)
	}
	return deleted
}

// scan collects keys matching match. Each cursor step gets its own op
// timeout so a large keyspace is not cut short by a single deadline.
func (c *Client) scan(ctx context.Context, match string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		sctx, cancel := c.opContext(ctx)
		batch, next, err := c.rdb.Scan(sctx, cursor, match, scanCount).Result()
		cancel()
		if err != nil {
			return keys, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
