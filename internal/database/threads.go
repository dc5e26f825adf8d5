package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-chatcore/internal/cache"
	"github.com/npezzotti/go-chatcore/internal/semantic"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	roomThreadsQueryName = "threads_room"
	defaultListLimit     = 10
	defaultMessageLimit  = 50
)

type RepositoryOptions struct {
	QueryTTL   time.Duration
	MessageTTL time.Duration
}

// ThreadRepository is the Postgres backed ThreadStore. Reads outside a
// transaction go through the query and message caches; writes invalidate
// them and feed the semantic index once committed.
type ThreadRepository struct {
	db       *sql.DB
	q        querier
	tx       *sql.Tx
	queries  *cache.QueryCache
	messages *cache.MessageCache
	index    semantic.Index
	log      zerolog.Logger
	stats    stats.StatsProvider
	opts     RepositoryOptions
	now      func() time.Time
	newID    func() (string, error)

	// non-nil inside a transaction
	pending *[]func(context.Context)
}

var _ ThreadStore = (*ThreadRepository)(nil)

func NewThreadRepository(
	db *sql.DB,
	queries *cache.QueryCache,
	messages *cache.MessageCache,
	index semantic.Index,
	opts RepositoryOptions,
	logger zerolog.Logger,
	sp stats.StatsProvider,
) *ThreadRepository {
	if index == nil {
		index = semantic.NoopIndex{}
	}
	if sp == nil {
		sp = stats.Discard
	}
	return &ThreadRepository{
		db:       db,
		q:        db,
		queries:  queries,
		messages: messages,
		index:    index,
		log:      logger.With().Str("component", "thread_repository").Logger(),
		stats:    sp,
		opts:     opts,
		now:      time.Now,
		newID:    shortid.Generate,
	}
}

func (r *ThreadRepository) InTx(ctx context.Context, fn func(ThreadStore) error) (err error) {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txRepo := *r
	txRepo.q = tx
	txRepo.tx = tx
	txRepo.pending = &[]func(context.Context){}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.log.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	if err = fn(&txRepo); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, f := range *txRepo.pending {
		f(ctx)
	}
	return nil
}

// afterCommit runs f once the surrounding transaction commits, or right away
// when there is none. f is best effort and must not fail the write.
func (r *ThreadRepository) afterCommit(ctx context.Context, f func(context.Context)) {
	if r.pending != nil {
		*r.pending = append(*r.pending, func(ctx context.Context) { f(context.WithoutCancel(ctx)) })
		return
	}
	f(context.WithoutCancel(ctx))
}

func (r *ThreadRepository) invalidateRoom(ctx context.Context, roomID string) {
	if r.queries == nil || roomID == "" {
		return
	}
	r.queries.InvalidateRoom(ctx, roomID)
}

func (r *ThreadRepository) invalidateThread(ctx context.Context, threadID string) {
	if r.messages == nil || threadID == "" {
		return
	}
	r.messages.InvalidateThread(ctx, threadID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThread(s scanner) (Thread, error) {
	var (
		t         Thread
		category  sql.NullString
		createdBy sql.NullString
		lastMsg   sql.NullTime
		archived  int
		parentID  sql.NullString
		rootID    sql.NullString
		parentMsg sql.NullString
	)
	err := s.Scan(
		&t.ID,
		&t.RoomID,
		&t.Title,
		&category,
		&createdBy,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.MessageCount,
		&lastMsg,
		&archived,
		&t.NextSequence,
		&parentID,
		&rootID,
		&parentMsg,
		&t.Depth,
	)
	if err != nil {
		return Thread{}, err
	}

	t.Category = NormalizeCategory(category.String)
	t.CreatedBy = createdBy.String
	t.IsArchived = archived != 0
	if lastMsg.Valid {
		ts := lastMsg.Time
		t.LastMessageAt = &ts
	}
	if parentID.Valid {
		t.ParentThreadID = &parentID.String
	}
	if parentMsg.Valid {
		t.ParentMessageID = &parentMsg.String
	}
	t.RootThreadID = rootID.String
	if t.RootThreadID == "" {
		t.RootThreadID = t.ID
	}
	return t, nil
}

func (r *ThreadRepository) queryThreads(ctx context.Context, query string, args ...any) ([]Thread, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *ThreadRepository) FindByID(ctx context.Context, id string) (Thread, error) {
	t, err := scanThread(r.q.QueryRowContext(ctx, findThreadByIDQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Thread{}, fmt.Errorf("thread %s: %w", id, ErrNotFound)
		}
		return Thread{}, fmt.Errorf("find thread: %w", err)
	}
	return t, nil
}

type roomThreadsParams struct {
	IncludeArchived bool `json:"include_archived"`
	Limit           int  `json:"limit"`
}

// FindByRoomID lists a room's threads, most recently updated first.
func (r *ThreadRepository) FindByRoomID(ctx context.Context, roomID string, opts ListOptions) ([]Thread, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	params := roomThreadsParams{IncludeArchived: opts.IncludeArchived, Limit: opts.Limit}

	cacheable := r.queries != nil && r.tx == nil
	if cacheable {
		var cached []Thread
		if r.queries.Get(ctx, roomID, roomThreadsQueryName, params, &cached) {
			return cached, nil
		}
	}

	query := findThreadsByRoomQuery
	if opts.IncludeArchived {
		query = findAllThreadsByRoomQuery
	}
	threads, err := r.queryThreads(ctx, query, roomID, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("find threads by room: %w", err)
	}

	if cacheable {
		r.queries.Set(ctx, roomID, roomThreadsQueryName, params, threads, r.opts.QueryTTL)
	}
	return threads, nil
}

func (r *ThreadRepository) FindByCategory(ctx context.Context, roomID, category string, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	threads, err := r.queryThreads(ctx, findThreadsByCategoryQuery, roomID, NormalizeCategory(category), limit)
	if err != nil {
		return nil, fmt.Errorf("find threads by category: %w", err)
	}
	return threads, nil
}

// FindForAssignment lists unarchived threads no deeper than maxDepth that
// can receive auto-assigned messages.
func (r *ThreadRepository) FindForAssignment(ctx context.Context, roomID string, maxDepth, limit int) ([]Thread, error) {
	threads, err := r.queryThreads(ctx, findThreadsForAssignmentQuery, roomID, maxDepth, limit)
	if err != nil {
		return nil, fmt.Errorf("find threads for assignment: %w", err)
	}
	return threads, nil
}

func (r *ThreadRepository) generateThreadID() (string, error) {
	id, err := r.newID()
	if err != nil {
		return "", fmt.Errorf("generate thread id: %w", err)
	}
	return "thread-" + id, nil
}

func (r *ThreadRepository) Create(ctx context.Context, params CreateThreadParams) (Thread, error) {
	id, err := r.generateThreadID()
	if err != nil {
		return Thread{}, err
	}

	t, err := scanThread(r.q.QueryRowContext(ctx, insertThreadQuery,
		id,
		params.RoomID,
		params.Title,
		NormalizeCategory(params.Category),
		nullString(params.CreatedBy),
		r.now().UTC(),
		nil,
		id,
		nil,
		0,
	))
	if err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}

	r.afterCommit(ctx, func(ctx context.Context) {
		r.invalidateRoom(ctx, t.RoomID)
		if err := r.index.IndexThread(ctx, t.ID, t.RoomID, t.Title); err != nil {
			r.log.Warn().Err(err).Str("thread_id", t.ID).Msg("index thread failed")
		}
	})
	return t, nil
}

// CreateSubThread creates a child of params.ParentThreadID one level deeper,
// sharing the parent's root and, unless given, its category.
func (r *ThreadRepository) CreateSubThread(ctx context.Context, params CreateSubThreadParams) (Thread, error) {
	var (
		parentRoom     string
		rootID         string
		parentDepth    int
		parentCategory string
	)
	err := r.q.QueryRowContext(ctx, parentThreadQuery, params.ParentThreadID).
		Scan(&parentRoom, &rootID, &parentDepth, &parentCategory)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Thread{}, fmt.Errorf("parent thread %s: %w", params.ParentThreadID, ErrNotFound)
		}
		return Thread{}, fmt.Errorf("find parent thread: %w", err)
	}

	if parentDepth >= MaxThreadDepth {
		return Thread{}, fmt.Errorf("parent thread %s at depth %d: %w", params.ParentThreadID, parentDepth, ErrMaxDepth)
	}

	roomID := params.RoomID
	if roomID == "" {
		roomID = parentRoom
	}
	category := params.Category
	if category == "" {
		category = parentCategory
	}

	id, err := r.generateThreadID()
	if err != nil {
		return Thread{}, err
	}

	t, err := scanThread(r.q.QueryRowContext(ctx, insertThreadQuery,
		id,
		roomID,
		params.Title,
		NormalizeCategory(category),
		nullString(params.CreatedBy),
		r.now().UTC(),
		params.ParentThreadID,
		rootID,
		nullString(params.ParentMessageID),
		parentDepth+1,
	))
	if err != nil {
		return Thread{}, fmt.Errorf("create sub-thread: %w", err)
	}

	r.afterCommit(ctx, func(ctx context.Context) {
		r.invalidateRoom(ctx, t.RoomID)
		if err := r.index.IndexThread(ctx, t.ID, t.RoomID, t.Title); err != nil {
			r.log.Warn().Err(err).Str("thread_id", t.ID).Msg("index sub-thread failed")
		}
		if err := r.index.LinkThreadToParent(ctx, t.ID, params.ParentThreadID); err != nil {
			r.log.Warn().Err(err).Str("thread_id", t.ID).Str("parent_id", params.ParentThreadID).Msg("link thread to parent failed")
		}
	})
	return t, nil
}

// updateThread runs a single-row update that returns the owning room so
// its cached queries can be dropped.
func (r *ThreadRepository) updateThread(ctx context.Context, op, query string, args ...any) error {
	var roomID string
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&roomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	r.afterCommit(ctx, func(ctx context.Context) { r.invalidateRoom(ctx, roomID) })
	return nil
}

func (r *ThreadRepository) UpdateTitle(ctx context.Context, id, title string) error {
	return r.updateThread(ctx, "update title", updateTitleQuery, title, r.now().UTC(), id)
}

func (r *ThreadRepository) UpdateCategory(ctx context.Context, id, category string) error {
	return r.updateThread(ctx, "update category", updateCategoryQuery, NormalizeCategory(category), r.now().UTC(), id)
}

func (r *ThreadRepository) Archive(ctx context.Context, id string, archived bool) error {
	return r.updateThread(ctx, "archive thread", archiveThreadQuery, boolInt(archived), r.now().UTC(), id)
}

func (r *ThreadRepository) GetSubThreads(ctx context.Context, id string) ([]Thread, error) {
	threads, err := r.queryThreads(ctx, subThreadsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get sub-threads: %w", err)
	}
	return threads, nil
}

// GetAncestors returns the chain above id, root first.
func (r *ThreadRepository) GetAncestors(ctx context.Context, id string) ([]Thread, error) {
	threads, err := r.queryThreads(ctx, ancestorsQuery, id, maxTreeWalk)
	if err != nil {
		return nil, fmt.Errorf("get ancestors: %w", err)
	}
	return threads, nil
}

// GetDescendants returns every thread below id, shallowest first.
func (r *ThreadRepository) GetDescendants(ctx context.Context, id string) ([]Thread, error) {
	threads, err := r.queryThreads(ctx, descendantsQuery, id, maxTreeWalk)
	if err != nil {
		return nil, fmt.Errorf("get descendants: %w", err)
	}
	return threads, nil
}

func (r *ThreadRepository) FindDescendantIDs(ctx context.Context, id string) ([]string, error) {
	threads, err := r.GetDescendants(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// GetMessages returns a thread's visible messages in sequence order.
// Private, flagged and system messages are left out.
func (r *ThreadRepository) GetMessages(ctx context.Context, threadID string, limit, offset int) ([]ThreadMessage, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if offset < 0 {
		offset = 0
	}

	cacheable := r.messages != nil && r.tx == nil
	if cacheable {
		var cached []ThreadMessage
		if r.messages.GetThread(ctx, threadID, limit, offset, &cached) {
			return cached, nil
		}
	}

	rows, err := r.q.QueryContext(ctx, threadMessagesQuery, threadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get thread messages: %w", err)
	}
	defer rows.Close()

	msgs := []ThreadMessage{}
	for rows.Next() {
		var (
			m   ThreadMessage
			tid sql.NullString
			seq sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &tid, &seq, &m.Type, &m.UserEmail, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan thread message: %w", err)
		}
		m.ThreadID = tid.String
		if seq.Valid {
			n := seq.Int64
			m.SequenceNumber = &n
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get thread messages: %w", err)
	}

	if cacheable {
		r.messages.SetThread(ctx, threadID, limit, offset, msgs, r.opts.MessageTTL)
	}
	return msgs, nil
}

// AddMessage attaches messageID to threadID with the thread's next sequence
// number. Counter bump and message stamp happen in one statement under the
// thread row lock, so concurrent attaches get distinct consecutive numbers.
func (r *ThreadRepository) AddMessage(ctx context.Context, messageID, threadID string) (res AddMessageResult, err error) {
	if r.tx == nil {
		err = r.InTx(ctx, func(s ThreadStore) error {
			var txErr error
			res, txErr = s.AddMessage(ctx, messageID, threadID)
			return txErr
		})
		return res, err
	}

	var current sql.NullString
	if err := r.q.QueryRowContext(ctx, lockMessageQuery, messageID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AddMessageResult{}, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return AddMessageResult{}, fmt.Errorf("lock message: %w", err)
	}
	if current.Valid && current.String != "" {
		return AddMessageResult{}, fmt.Errorf("message %s in thread %s: %w", messageID, current.String, ErrAlreadyAssigned)
	}

	err = r.q.QueryRowContext(ctx, addMessageQuery, r.now().UTC(), threadID, messageID).
		Scan(&res.SequenceNumber, &res.MessageCount, &res.LastMessageAt, &res.RoomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AddMessageResult{}, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
		}
		return AddMessageResult{}, fmt.Errorf("add message to thread: %w", err)
	}
	res.ThreadID = threadID

	r.afterCommit(ctx, func(ctx context.Context) {
		r.stats.Incr(stats.ThreadMessageAttached)
		r.invalidateThread(ctx, threadID)
		r.invalidateRoom(ctx, res.RoomID)
		if err := r.index.IndexMessage(ctx, messageID, threadID); err != nil {
			r.log.Warn().Err(err).Str("message_id", messageID).Str("thread_id", threadID).Msg("index message failed")
		}
	})
	return res, nil
}

// RemoveMessage detaches messageID from its thread. The sequence number it
// held is not reused. A message in the main chat is left alone and an empty
// result is returned.
func (r *ThreadRepository) RemoveMessage(ctx context.Context, messageID string) (res RemoveMessageResult, err error) {
	if r.tx == nil {
		err = r.InTx(ctx, func(s ThreadStore) error {
			var txErr error
			res, txErr = s.RemoveMessage(ctx, messageID)
			return txErr
		})
		return res, err
	}

	var current sql.NullString
	if err := r.q.QueryRowContext(ctx, lockMessageQuery, messageID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RemoveMessageResult{}, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return RemoveMessageResult{}, fmt.Errorf("lock message: %w", err)
	}
	if !current.Valid || current.String == "" {
		return RemoveMessageResult{}, nil
	}
	res.ThreadID = current.String

	if _, err := r.q.ExecContext(ctx, detachMessageQuery, messageID); err != nil {
		return RemoveMessageResult{}, fmt.Errorf("detach message: %w", err)
	}

	err = r.q.QueryRowContext(ctx, decrementThreadQuery, r.now().UTC(), res.ThreadID).
		Scan(&res.MessageCount, &res.RoomID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return RemoveMessageResult{}, fmt.Errorf("decrement thread count: %w", err)
	}

	r.afterCommit(ctx, func(ctx context.Context) {
		r.invalidateThread(ctx, res.ThreadID)
		r.invalidateRoom(ctx, res.RoomID)
	})
	return res, nil
}

func (r *ThreadRepository) GetMessageLocation(ctx context.Context, messageID string) (MessageLocation, error) {
	var threadID sql.NullString
	loc := MessageLocation{MessageID: messageID}
	if err := r.q.QueryRowContext(ctx, messageLocationQuery, messageID).Scan(&loc.RoomID, &threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MessageLocation{}, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return MessageLocation{}, fmt.Errorf("get message location: %w", err)
	}
	loc.ThreadID = threadID.String
	return loc, nil
}

func (r *ThreadRepository) IsMessageAssigned(ctx context.Context, messageID string) (bool, error) {
	loc, err := r.GetMessageLocation(ctx, messageID)
	if err != nil {
		return false, err
	}
	return loc.ThreadID != "", nil
}

// ThreadIDsForMessages maps each assigned message id to its thread.
// Unassigned and unknown ids are absent from the result.
func (r *ThreadRepository) ThreadIDsForMessages(ctx context.Context, messageIDs []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(messageIDs) == 0 {
		return out, nil
	}

	rows, err := r.q.QueryContext(ctx, threadIDsForMessagesQuery, pq.Array(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("thread ids for messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, threadID string
		if err := rows.Scan(&msgID, &threadID); err != nil {
			return nil, fmt.Errorf("scan thread id: %w", err)
		}
		out[msgID] = threadID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("thread ids for messages: %w", err)
	}
	return out, nil
}
