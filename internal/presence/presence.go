// Package presence tracks which users are connected, through which
// connections and in which room. Entries expire on their own, so a crashed
// instance's users go offline once their ttl lapses.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/go-chatcore/internal/cache"
	"github.com/npezzotti/go-chatcore/internal/coord"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/rs/zerolog"
)

const (
	defaultTTL             = 90 * time.Second
	defaultRefreshInterval = 30 * time.Second
)

// Store is the subset of *coord.Client the service needs.
type Store interface {
	SetPresence(ctx context.Context, entry coord.PresenceEntry, ttl time.Duration) bool
	RemovePresence(ctx context.Context, userID, connID string) bool
	IsOnline(ctx context.Context, userID string) bool
	ListOnlineInRoom(ctx context.Context, roomID string) []string
}

type Options struct {
	TTL             time.Duration
	RefreshInterval time.Duration
}

type Service struct {
	store    Store
	sessions *cache.SessionCache
	ttl      time.Duration
	interval time.Duration
	log      zerolog.Logger
	stats    stats.StatsProvider
	now      func() time.Time

	mu      sync.Mutex
	tracked map[string]cache.Session // by connection id, local connections only
}

func NewService(store Store, sessions *cache.SessionCache, opts Options, logger zerolog.Logger, sp stats.StatsProvider) *Service {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.RefreshInterval <= 0 || opts.RefreshInterval >= opts.TTL {
		opts.RefreshInterval = opts.TTL / 3
	}
	if sp == nil {
		sp = stats.Discard
	}
	return &Service{
		store:    store,
		sessions: sessions,
		ttl:      opts.TTL,
		interval: opts.RefreshInterval,
		log:      logger.With().Str("component", "presence").Logger(),
		stats:    sp,
		now:      time.Now,
		tracked:  make(map[string]cache.Session),
	}
}

// Connect records a new connection and caches its session so other
// components can resolve the connection to a user.
func (s *Service) Connect(ctx context.Context, sess cache.Session) {
	if sess.ConnectedAt.IsZero() {
		sess.ConnectedAt = s.now().UTC()
	}

	s.mu.Lock()
	s.tracked[sess.ConnectionID] = sess
	s.mu.Unlock()

	if s.sessions != nil {
		s.sessions.Set(ctx, sess)
	}
	if !s.store.SetPresence(ctx, s.entry(sess), s.ttl) {
		s.log.Debug().Str("user_id", sess.UserID).Msg("presence not recorded in shared store")
	}
}

// Join moves a tracked connection to another room.
func (s *Service) Join(ctx context.Context, connID, roomID string) bool {
	s.mu.Lock()
	sess, ok := s.tracked[connID]
	if ok {
		sess.RoomID = roomID
		s.tracked[connID] = sess
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	if s.sessions != nil {
		s.sessions.Set(ctx, sess)
	}
	s.store.SetPresence(ctx, s.entry(sess), s.ttl)
	return true
}

func (s *Service) Disconnect(ctx context.Context, userID, connID string) {
	s.mu.Lock()
	delete(s.tracked, connID)
	s.mu.Unlock()

	if s.sessions != nil {
		s.sessions.Delete(ctx, connID)
	}
	s.store.RemovePresence(ctx, userID, connID)
}

// Session resolves a connection id to the identity that opened it.
func (s *Service) Session(ctx context.Context, connID string) (cache.Session, bool) {
	s.mu.Lock()
	sess, ok := s.tracked[connID]
	s.mu.Unlock()
	if ok {
		return sess, true
	}
	if s.sessions == nil {
		return cache.Session{}, false
	}
	return s.sessions.Get(ctx, connID)
}

func (s *Service) IsOnline(ctx context.Context, userID string) bool {
	return s.store.IsOnline(ctx, userID)
}

func (s *Service) OnlineInRoom(ctx context.Context, roomID string) []string {
	return s.store.ListOnlineInRoom(ctx, roomID)
}

// Refresh re-arms the ttl of every connection held by this instance and
// returns how many were refreshed.
func (s *Service) Refresh(ctx context.Context) int {
	s.mu.Lock()
	sessions := make([]cache.Session, 0, len(s.tracked))
	for _, sess := range s.tracked {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	n := 0
	for _, sess := range sessions {
		if s.store.SetPresence(ctx, s.entry(sess), s.ttl) {
			n++
		}
	}
	if n > 0 {
		s.stats.Incr(stats.PresenceRefresh)
	}
	return n
}

// Run refreshes tracked connections every RefreshInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Service) entry(sess cache.Session) coord.PresenceEntry {
	return coord.PresenceEntry{
		UserID:       sess.UserID,
		ConnectionID: sess.ConnectionID,
		RoomID:       sess.RoomID,
		LastSeen:     s.now().UTC(),
	}
}
