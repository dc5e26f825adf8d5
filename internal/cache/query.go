package cache

import (
	"context"
	"strings"
	"time"

	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/rs/zerolog"
)

const queryNamespace = "query"

// QueryCache holds query results scoped to a room, so a room's entries can
// be dropped with a single prefix invalidation.
type QueryCache struct {
	layer *Layer
}

func NewQueryCache(store Store, opts Options, logger zerolog.Logger, sp stats.StatsProvider) *QueryCache {
	return &QueryCache{layer: NewLayer(queryNamespace, store, opts, logger, sp)}
}

func (q *QueryCache) key(roomID, query string, params any) string {
	return q.layer.Key(params, roomID, query)
}

func (q *QueryCache) Get(ctx context.Context, roomID, query string, params any, dst any) bool {
	return q.layer.Get(ctx, q.key(roomID, query, params), dst)
}

func (q *QueryCache) Set(ctx context.Context, roomID, query string, params any, value any, ttl time.Duration) {
	q.layer.Set(ctx, q.key(roomID, query, params), value, ttl)
}

// InvalidateRoom drops every cached query for roomID from both tiers.
func (q *QueryCache) InvalidateRoom(ctx context.Context, roomID string) int {
	return q.layer.InvalidatePrefix(ctx, roomID)
}

// InvalidateRoomLocal drops roomID's entries from this process only. Used
// when another instance announces an invalidation it already applied to the
// shared tier.
func (q *QueryCache) InvalidateRoomLocal(roomID string) int {
	return q.layer.InvalidateLocal(roomID)
}

// InvalidateQuery drops a named query across all rooms.
func (q *QueryCache) InvalidateQuery(ctx context.Context, query string) int {
	q.layer.local.deleteMatching(func(key string) bool {
		parts := strings.Split(key, ":")
		return len(parts) >= 4 && parts[len(parts)-2] == query
	})
	return q.layer.store.CacheDeletePattern(ctx, queryNamespace+":*:"+escapeGlob(query)+":*")
}
