package cache

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/rs/zerolog"
)

const messageNamespace = "messages"

type MessageCache struct {
	layer *Layer
}

func NewMessageCache(store Store, opts Options, logger zerolog.Logger, sp stats.StatsProvider) *MessageCache {
	return &MessageCache{layer: NewLayer(messageNamespace, store, opts, logger, sp)}
}

type pageParams struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (m *MessageCache) GetRecent(ctx context.Context, roomID string, limit, offset int, dst any) bool {
	return m.layer.Get(ctx, m.layer.Key(pageParams{limit, offset}, "room", roomID), dst)
}

func (m *MessageCache) SetRecent(ctx context.Context, roomID string, limit, offset int, value any, ttl time.Duration) {
	m.layer.Set(ctx, m.layer.Key(pageParams{limit, offset}, "room", roomID), value, ttl)
}

func (m *MessageCache) InvalidateRoom(ctx context.Context, roomID string) int {
	return m.layer.InvalidatePrefix(ctx, "room", roomID)
}

func (m *MessageCache) GetThread(ctx context.Context, threadID string, limit, offset int, dst any) bool {
	return m.layer.Get(ctx, m.layer.Key(pageParams{limit, offset}, "thread", threadID), dst)
}

func (m *MessageCache) SetThread(ctx context.Context, threadID string, limit, offset int, value any, ttl time.Duration) {
	m.layer.Set(ctx, m.layer.Key(pageParams{limit, offset}, "thread", threadID), value, ttl)
}

func (m *MessageCache) InvalidateThread(ctx context.Context, threadID string) int {
	return m.layer.InvalidatePrefix(ctx, "thread", threadID)
}
