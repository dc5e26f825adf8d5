package cache

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/rs/zerolog"
)

const sessionNamespace = "session"

// Session maps a live connection to the identity that opened it.
type Session struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	RoomID       string    `json:"room_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
}

type SessionCache struct {
	layer *Layer
}

func NewSessionCache(store Store, opts Options, logger zerolog.Logger, sp stats.StatsProvider) *SessionCache {
	return &SessionCache{layer: NewLayer(sessionNamespace, store, opts, logger, sp)}
}

func (s *SessionCache) key(connID string) string {
	return s.layer.Key(map[string]string{"connection_id": connID}, "conn")
}

func (s *SessionCache) Get(ctx context.Context, connID string) (Session, bool) {
	var sess Session
	ok := s.layer.Get(ctx, s.key(connID), &sess)
	return sess, ok
}

func (s *SessionCache) Set(ctx context.Context, sess Session) {
	s.layer.Set(ctx, s.key(sess.ConnectionID), sess, 0)
}

func (s *SessionCache) Delete(ctx context.Context, connID string) {
	s.layer.Delete(ctx, s.key(connID))
}
