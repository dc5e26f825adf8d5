package coord

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type PresenceEntry struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	RoomID       string    `json:"room_id,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}

func presenceUserKey(userID string) string {
	return presencePrefix + "user:" + userID
}

func presenceConnKey(userID, connID string) string {
	return presencePrefix + "conn:" + userID + ":" + connID
}

// SetPresence creates or refreshes the entry for one connection. The user's
// connection set and the connection detail carry their own ttl.
func (c *Client) SetPresence(ctx context.Context, entry PresenceEntry, ttl time.Duration) bool {
	if !c.Available() {
		c.failOpen("set_presence")
		return false
	}

	if entry.LastSeen.IsZero() {
		entry.LastSeen = c.now().UTC()
	}
	detail, err := json.Marshal(entry)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", entry.UserID).Msg("set presence: encode entry")
		return false
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	userKey := presenceUserKey(entry.UserID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceConnKey(entry.UserID, entry.ConnectionID), detail, ttl)
		pipe.SAdd(ctx, userKey, entry.ConnectionID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", entry.UserID).Msg("set presence failed")
		return false
	}
	return true
}

func (c *Client) RemovePresence(ctx context.Context, userID, connID string) bool {
	if !c.Available() {
		c.failOpen("remove_presence")
		return false
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	userKey := presenceUserKey(userID)
	var remaining *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceConnKey(userID, connID))
		pipe.SRem(ctx, userKey, connID)
		remaining = pipe.SCard(ctx, userKey)
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("remove presence failed")
		return false
	}

	if remaining.Val() == 0 {
		if err := c.rdb.Del(ctx, userKey).Err(); err != nil {
			c.log.Warn().Err(err).Str("user_id", userID).Msg("remove presence: delete user set")
		}
	}
	return true
}

// IsOnline reports whether the user has at least one live connection entry.
// Set members whose detail has expired are pruned on the way.
func (c *Client) IsOnline(ctx context.Context, userID string) bool {
	if !c.Available() {
		c.failOpen("is_online")
		return false
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	userKey := presenceUserKey(userID)
	conns, err := c.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("is online failed")
		return false
	}

	online := false
	var stale []any
	for _, connID := range conns {
		n, err := c.rdb.Exists(ctx, presenceConnKey(userID, connID)).Result()
		if err != nil {
			c.log.Warn().Err(err).Str("user_id", userID).Msg("is online: check connection")
			return online
		}
		if n > 0 {
			online = true
			continue
		}
		stale = append(stale, connID)
	}

	if len(stale) > 0 {
		if err := c.rdb.SRem(ctx, userKey, stale...).Err(); err != nil {
			c.log.Warn().Err(err).Str("user_id", userID).Msg("is online: prune stale connections")
		}
	}
	return online
}

// ListOnlineInRoom returns the distinct user ids with a live connection in
// roomID, in first-seen order.
func (c *Client) ListOnlineInRoom(ctx context.Context, roomID string) []string {
	if !c.Available() {
		c.failOpen("list_online")
		return []string{}
	}

	keys, err := c.scan(ctx, presencePrefix+"conn:*")
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("list online: scan")
	}

	users := []string{}
	seen := make(map[string]struct{})
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))

		mctx, cancel := c.opContext(ctx)
		vals, err := c.rdb.MGet(mctx, keys[start:end]...).Result()
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("list online: read entries")
			break
		}

		for _, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue // expired between SCAN and MGET
			}
			var e PresenceEntry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				continue
			}
			if e.RoomID != roomID {
				continue
			}
			if _, dup := seen[e.UserID]; dup {
				continue
			}
			seen[e.UserID] = struct{}{}
			users = append(users, e.UserID)
		}
	}
	return users
}
