// Package threads holds the thread use cases: creating threads and
// sub-threads, replying, moving messages between threads, archiving,
// suggesting a thread for new conversation and auto-assigning messages.
package threads

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/events"
	"github.com/npezzotti/go-chatcore/internal/semantic"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/rs/zerolog"
)

const (
	minTitleLen = 3
	maxTitleLen = 100
)

// Identity is the already authenticated caller.
type Identity struct {
	UserID   string
	Username string
}

type NewMessage struct {
	RoomID string
	Text   string
	Type   string
	Sender Identity
}

// MessageCreator stores a chat message in the main chat of its room and
// returns the new message id.
type MessageCreator interface {
	CreateMessage(ctx context.Context, msg NewMessage) (string, error)
}

type Source string

const (
	SourceSemantic Source = "semantic"
	SourceKeywords Source = "keywords"
)

type Suggestion struct {
	ThreadID string  `json:"threadId,omitempty"`
	Title    string  `json:"title,omitempty"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Source   Source  `json:"source"`
}

type Service struct {
	store    database.ThreadStore
	messages MessageCreator
	index    semantic.Index
	analyzer ConversationAnalyzer
	events   events.Emitter
	log      zerolog.Logger
	stats    stats.StatsProvider
}

func NewService(
	store database.ThreadStore,
	messages MessageCreator,
	index semantic.Index,
	analyzer ConversationAnalyzer,
	emitter events.Emitter,
	logger zerolog.Logger,
	sp stats.StatsProvider,
) *Service {
	if index == nil {
		index = semantic.NoopIndex{}
	}
	if analyzer == nil {
		analyzer = KeywordAnalyzer{}
	}
	if sp == nil {
		sp = stats.Discard
	}
	return &Service{
		store:    store,
		messages: messages,
		index:    index,
		analyzer: analyzer,
		events:   emitter,
		log:      logger.With().Str("component", "threads").Logger(),
		stats:    sp,
	}
}

func (s *Service) observe(op string, start time.Time) {
	s.stats.Observe(stats.OperationDuration, time.Since(start), op)
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	n := utf8.RuneCountInString(title)
	if n < minTitleLen || n > maxTitleLen {
		return "", NewInvalidError("title must be between %d and %d characters", minTitleLen, maxTitleLen)
	}
	return title, nil
}

type CreateThreadInput struct {
	RoomID           string
	Title            string
	Category         string
	InitialMessageID string
}

// CreateThread creates a top-level thread, optionally seeded with an
// existing main chat message that becomes sequence number 0.
func (s *Service) CreateThread(ctx context.Context, id Identity, in CreateThreadInput) (database.Thread, error) {
	defer s.observe("create_thread", time.Now())

	if in.RoomID == "" {
		return database.Thread{}, NewInvalidError("room id is required")
	}
	title, err := normalizeTitle(in.Title)
	if err != nil {
		return database.Thread{}, err
	}

	if in.InitialMessageID != "" {
		loc, err := s.store.GetMessageLocation(ctx, in.InitialMessageID)
		if err != nil {
			return database.Thread{}, wrapStoreError("find initial message", err)
		}
		if loc.RoomID != in.RoomID {
			return database.Thread{}, NewNotFoundError("message %s not found in room %s", in.InitialMessageID, in.RoomID)
		}
		if loc.ThreadID != "" {
			return database.Thread{}, NewInvalidError("message %s already belongs to thread %s", in.InitialMessageID, loc.ThreadID)
		}
	}

	var (
		thread database.Thread
		added  *database.AddMessageResult
	)
	err = s.store.InTx(ctx, func(tx database.ThreadStore) error {
		t, err := tx.Create(ctx, database.CreateThreadParams{
			RoomID:    in.RoomID,
			Title:     title,
			Category:  in.Category,
			CreatedBy: id.Username,
		})
		if err != nil {
			return err
		}
		thread = t

		if in.InitialMessageID == "" {
			return nil
		}
		res, err := tx.AddMessage(ctx, in.InitialMessageID, t.ID)
		if err != nil {
			return err
		}
		thread.MessageCount = res.MessageCount
		thread.NextSequence = res.SequenceNumber + 1
		thread.LastMessageAt = &res.LastMessageAt
		added = &res
		return nil
	})
	if err != nil {
		return database.Thread{}, wrapStoreError("create thread", err)
	}

	s.events.Emit(events.ThreadCreated, events.ThreadCreatedPayload{
		ThreadID:         thread.ID,
		RoomID:           thread.RoomID,
		Title:            thread.Title,
		Category:         thread.Category,
		CreatedBy:        thread.CreatedBy,
		InitialMessageID: in.InitialMessageID,
		CreatedAt:        thread.CreatedAt,
	})
	if added != nil {
		s.emitMessageAdded(in.InitialMessageID, *added, "", false)
	}

	s.log.Info().Str("thread_id", thread.ID).Str("room_id", thread.RoomID).Msg("thread created")
	return thread, nil
}

type CreateSubThreadInput struct {
	ParentThreadID  string
	Title           string
	Category        string
	ParentMessageID string
}

func (s *Service) CreateSubThread(ctx context.Context, id Identity, in CreateSubThreadInput) (database.Thread, error) {
	defer s.observe("create_sub_thread", time.Now())

	title, err := normalizeTitle(in.Title)
	if err != nil {
		return database.Thread{}, err
	}

	parent, err := s.store.FindByID(ctx, in.ParentThreadID)
	if err != nil {
		return database.Thread{}, wrapStoreError("find parent thread", err)
	}
	if parent.IsArchived {
		return database.Thread{}, NewInvalidError("parent thread %s is archived", parent.ID)
	}
	if parent.Depth >= database.MaxThreadDepth {
		return database.Thread{}, NewInvalidError("threads cannot be nested more than %d levels deep", database.MaxThreadDepth)
	}

	if in.ParentMessageID != "" {
		loc, err := s.store.GetMessageLocation(ctx, in.ParentMessageID)
		if err != nil {
			return database.Thread{}, wrapStoreError("find parent message", err)
		}
		if loc.RoomID != parent.RoomID {
			return database.Thread{}, NewNotFoundError("message %s not found in room %s", in.ParentMessageID, parent.RoomID)
		}
	}

	thread, err := s.store.CreateSubThread(ctx, database.CreateSubThreadParams{
		RoomID:          parent.RoomID,
		Title:           title,
		Category:        in.Category,
		CreatedBy:       id.Username,
		ParentThreadID:  parent.ID,
		ParentMessageID: in.ParentMessageID,
	})
	if err != nil {
		return database.Thread{}, wrapStoreError("create sub-thread", err)
	}

	s.events.Emit(events.SubThreadCreated, events.SubThreadCreatedPayload{
		ThreadID:        thread.ID,
		RoomID:          thread.RoomID,
		Title:           thread.Title,
		Category:        thread.Category,
		CreatedBy:       thread.CreatedBy,
		ParentThreadID:  parent.ID,
		ParentMessageID: in.ParentMessageID,
		RootThreadID:    thread.RootThreadID,
		Depth:           thread.Depth,
	})
	return thread, nil
}

type ReplyInput struct {
	ThreadID string
	Text     string
	Type     string
}

type ReplyResult struct {
	MessageID      string `json:"messageId"`
	ThreadID       string `json:"threadId"`
	SequenceNumber int64  `json:"sequenceNumber"`
	MessageCount   int    `json:"messageCount"`
}

// Reply posts text into a thread. The message is created in the main chat
// first and then attached, so a failed attach never leaves a message inside
// the thread without a sequence number.
func (s *Service) Reply(ctx context.Context, id Identity, in ReplyInput) (ReplyResult, error) {
	defer s.observe("reply", time.Now())

	if strings.TrimSpace(in.Text) == "" {
		return ReplyResult{}, NewInvalidError("reply text is required")
	}

	thread, err := s.store.FindByID(ctx, in.ThreadID)
	if err != nil {
		return ReplyResult{}, wrapStoreError("find thread", err)
	}
	if thread.IsArchived {
		return ReplyResult{}, NewInvalidError("thread %s is archived", thread.ID)
	}

	msgType := in.Type
	if msgType == "" {
		msgType = "user"
	}
	msgID, err := s.messages.CreateMessage(ctx, NewMessage{
		RoomID: thread.RoomID,
		Text:   in.Text,
		Type:   msgType,
		Sender: id,
	})
	if err != nil {
		return ReplyResult{}, NewInternalError("create reply message", err)
	}

	res, err := s.store.AddMessage(ctx, msgID, thread.ID)
	if err != nil {
		return ReplyResult{}, wrapStoreError("attach reply", err)
	}

	s.emitMessageAdded(msgID, res, "", false)
	return ReplyResult{
		MessageID:      msgID,
		ThreadID:       res.ThreadID,
		SequenceNumber: res.SequenceNumber,
		MessageCount:   res.MessageCount,
	}, nil
}

func (s *Service) emitMessageAdded(messageID string, res database.AddMessageResult, movedFrom string, auto bool) {
	s.events.Emit(events.ThreadMessageAdded, events.ThreadMessageAddedPayload{
		ThreadID:       res.ThreadID,
		RoomID:         res.RoomID,
		MessageID:      messageID,
		SequenceNumber: res.SequenceNumber,
		MessageCount:   res.MessageCount,
		MovedFrom:      movedFrom,
		AutoAssigned:   auto,
		AddedAt:        res.LastMessageAt,
	})
}
