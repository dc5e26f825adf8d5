package threads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-chatcore/internal/coord"
	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/events"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Coordinator is the slice of the coordination store auto-assignment uses
// to stay single-flight and rate limited across instances.
type Coordinator interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) bool
	ReleaseLock(ctx context.Context, key string)
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) coord.RateLimitResult
}

type AutoAssignOptions struct {
	MaxDepth      int
	MaxThreads    int
	RatePerSecond float64
	Burst         int
	LockTTL       time.Duration
}

func (o AutoAssignOptions) withDefaults() AutoAssignOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = database.MaxThreadDepth
	}
	if o.MaxThreads <= 0 {
		o.MaxThreads = 50
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 10
	}
	if o.Burst <= 0 {
		o.Burst = max(1, int(o.RatePerSecond))
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	return o
}

// sharedLimit is the per second budget enforced across instances. Fractional
// rates round down but never below one.
func (o AutoAssignOptions) sharedLimit() int {
	return max(1, int(o.RatePerSecond))
}

type IncomingMessage struct {
	ID     string
	RoomID string
	Text   string
}

type Assignment struct {
	MessageID      string `json:"messageId"`
	ThreadID       string `json:"threadId"`
	RoomID         string `json:"roomId"`
	SequenceNumber int64  `json:"sequenceNumber"`
	MessageCount   int    `json:"messageCount"`
}

// skip reasons, used as metric labels
const (
	skipLocked      = "locked"
	skipAssigned    = "assigned"
	skipLocalRate   = "rate_local"
	skipSharedRate  = "rate_shared"
	skipNoMatch     = "no_match"
	skipNoCandidate = "no_candidates"
)

// AutoAssigner files new main chat messages into an existing thread when
// the analyzer finds a confident match.
type AutoAssigner struct {
	store    database.ThreadStore
	analyzer ConversationAnalyzer
	coord    Coordinator
	events   events.Emitter
	log      zerolog.Logger
	stats    stats.StatsProvider
	opts     AutoAssignOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewAutoAssigner(
	store database.ThreadStore,
	analyzer ConversationAnalyzer,
	coordinator Coordinator,
	emitter events.Emitter,
	opts AutoAssignOptions,
	logger zerolog.Logger,
	sp stats.StatsProvider,
) *AutoAssigner {
	if analyzer == nil {
		analyzer = KeywordAnalyzer{}
	}
	if sp == nil {
		sp = stats.Discard
	}
	return &AutoAssigner{
		store:    store,
		analyzer: analyzer,
		coord:    coordinator,
		events:   emitter,
		log:      logger.With().Str("component", "autoassign").Logger(),
		stats:    sp,
		opts:     opts.withDefaults(),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (a *AutoAssigner) limiter(roomID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.limiters[roomID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(a.opts.RatePerSecond), a.opts.Burst)
		a.limiters[roomID] = l
	}
	return l
}

func (a *AutoAssigner) skip(reason, messageID string) (Assignment, bool, error) {
	a.stats.Incr(stats.AutoAssignSkipped, reason)
	a.log.Debug().Str("message_id", messageID).Str("reason", reason).Msg("auto-assign skipped")
	return Assignment{}, false, nil
}

// isAssigned reports whether the message already has a thread. Lookup
// failures other than a missing message count as unassigned.
func (a *AutoAssigner) isAssigned(ctx context.Context, messageID string) (bool, error) {
	assigned, err := a.store.IsMessageAssigned(ctx, messageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, wrapStoreError("find message", err)
		}
		a.log.Warn().Err(err).Str("message_id", messageID).Msg("assignment check failed, continuing")
		return false, nil
	}
	return assigned, nil
}

// AutoAssign tries to attach msg to one of its room's threads. It returns
// false with a nil error when a safeguard or the analyzer declined.
func (a *AutoAssigner) AutoAssign(ctx context.Context, msg IncomingMessage) (Assignment, bool, error) {
	if msg.ID == "" || msg.RoomID == "" {
		return Assignment{}, false, NewInvalidError("message id and room id are required")
	}

	lockKey := "autoassign:" + msg.ID
	if !a.coord.AcquireLock(ctx, lockKey, a.opts.LockTTL) {
		return a.skip(skipLocked, msg.ID)
	}
	defer a.coord.ReleaseLock(ctx, lockKey)

	assigned, err := a.isAssigned(ctx, msg.ID)
	if err != nil {
		return Assignment{}, false, err
	}
	if assigned {
		return a.skip(skipAssigned, msg.ID)
	}

	if !a.limiter(msg.RoomID).Allow() {
		return a.skip(skipLocalRate, msg.ID)
	}
	if res := a.coord.CheckRateLimit(ctx, "autoassign:"+msg.RoomID, a.opts.sharedLimit(), time.Second); !res.Allowed {
		return a.skip(skipSharedRate, msg.ID)
	}

	candidates, err := a.store.FindForAssignment(ctx, msg.RoomID, a.opts.MaxDepth, a.opts.MaxThreads)
	if err != nil {
		return Assignment{}, false, wrapStoreError("list candidate threads", err)
	}
	if len(candidates) == 0 {
		return a.skip(skipNoCandidate, msg.ID)
	}

	thread, ok, err := a.analyzer.PickThread(ctx, msg.Text, candidates)
	if err != nil {
		return Assignment{}, false, NewInternalError("analyze message", err)
	}
	if !ok {
		return a.skip(skipNoMatch, msg.ID)
	}

	// another writer may have filed the message while the analyzer ran
	assigned, err = a.isAssigned(ctx, msg.ID)
	if err != nil {
		return Assignment{}, false, err
	}
	if assigned {
		return a.skip(skipAssigned, msg.ID)
	}

	res, err := a.store.AddMessage(ctx, msg.ID, thread.ID)
	if err != nil {
		if errors.Is(err, database.ErrAlreadyAssigned) {
			return a.skip(skipAssigned, msg.ID)
		}
		return Assignment{}, false, wrapStoreError("attach message", err)
	}

	a.events.Emit(events.ThreadMessageAdded, events.ThreadMessageAddedPayload{
		ThreadID:       res.ThreadID,
		RoomID:         res.RoomID,
		MessageID:      msg.ID,
		SequenceNumber: res.SequenceNumber,
		MessageCount:   res.MessageCount,
		AutoAssigned:   true,
		AddedAt:        res.LastMessageAt,
	})
	return Assignment{
		MessageID:      msg.ID,
		ThreadID:       res.ThreadID,
		RoomID:         res.RoomID,
		SequenceNumber: res.SequenceNumber,
		MessageCount:   res.MessageCount,
	}, true, nil
}

// HandleMessageCreated is the bus handler for events.MessageCreated.
func (a *AutoAssigner) HandleMessageCreated(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.MessageCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", e.Name, e.Payload)
	}

	res, assigned, err := a.AutoAssign(ctx, IncomingMessage{ID: p.MessageID, RoomID: p.RoomID, Text: p.Text})
	if err != nil {
		return err
	}
	if assigned {
		a.log.Info().Str("message_id", res.MessageID).Str("thread_id", res.ThreadID).Msg("message auto-assigned")
	}
	return nil
}
