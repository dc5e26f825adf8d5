package threads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/events"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/npezzotti/go-chatcore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	name    events.Name
	payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEmitter) Emit(name events.Name, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, payload: payload})
}

func (r *recordingEmitter) names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]events.Name, len(r.events))
	for i, e := range r.events {
		names[i] = e.name
	}
	return names
}

type fakeMessages struct {
	created []NewMessage
	err     error
}

func (f *fakeMessages) CreateMessage(_ context.Context, msg NewMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, msg)
	return "msg-new", nil
}

type fakeIndex struct {
	similar []string
	err     error
}

func (fakeIndex) IndexThread(context.Context, string, string, string) error { return nil }
func (fakeIndex) IndexMessage(context.Context, string, string) error        { return nil }
func (fakeIndex) LinkThreadToParent(context.Context, string, string) error  { return nil }

func (f fakeIndex) FindSimilarMessages(context.Context, []float64, string, int, float64) ([]string, error) {
	return f.similar, f.err
}

var alice = Identity{UserID: "u-1", Username: "alice@example.com"}

func newTestService(t *testing.T, index fakeIndex) (*Service, *database.MockThreadStore, *fakeMessages, *recordingEmitter) {
	t.Helper()
	store := &database.MockThreadStore{}
	msgs := &fakeMessages{}
	emitter := &recordingEmitter{}
	svc := NewService(store, msgs, index, KeywordAnalyzer{}, emitter, testutil.TestLogger(t), stats.Discard)
	return svc, store, msgs, emitter
}

func TestCreateThreadValidation(t *testing.T) {
	tcases := []struct {
		name  string
		input CreateThreadInput
	}{
		{name: "missing room", input: CreateThreadInput{Title: "Pickups"}},
		{name: "short title", input: CreateThreadInput{RoomID: "room-1", Title: " ab "}},
		{name: "long title", input: CreateThreadInput{RoomID: "room-1", Title: strings.Repeat("x", maxTitleLen+1)}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _, emitter := newTestService(t, fakeIndex{})

			_, err := svc.CreateThread(context.Background(), alice, tc.input)
			assert.True(t, IsInvalid(err), "expected invalid error, got %v", err)
			store.AssertNotCalled(t, "InTx")
			assert.Empty(t, emitter.names(), "expected no events")
		})
	}
}

func TestCreateThreadWithInitialMessage(t *testing.T) {
	svc, store, _, emitter := newTestService(t, fakeIndex{})
	now := time.Now().UTC()

	store.On("GetMessageLocation", "msg-1").Return(database.MessageLocation{MessageID: "msg-1", RoomID: "room-1"}, nil)
	store.On("InTx").Return(nil)
	store.On("Create", database.CreateThreadParams{
		RoomID:    "room-1",
		Title:     "Soccer practice",
		Category:  "activities",
		CreatedBy: "alice@example.com",
	}).Return(database.Thread{ID: "thread-1", RoomID: "room-1", Title: "Soccer practice", Category: "activities", CreatedBy: "alice@example.com"}, nil)
	store.On("AddMessage", "msg-1", "thread-1").Return(database.AddMessageResult{
		ThreadID: "thread-1", RoomID: "room-1", SequenceNumber: 0, MessageCount: 1, LastMessageAt: now,
	}, nil)

	thread, err := svc.CreateThread(context.Background(), alice, CreateThreadInput{
		RoomID:           "room-1",
		Title:            "  Soccer practice ",
		Category:         "activities",
		InitialMessageID: "msg-1",
	})
	require.NoError(t, err, "expected thread to be created")
	assert.Equal(t, 1, thread.MessageCount, "expected initial message to be counted")
	assert.Equal(t, int64(1), thread.NextSequence, "expected next sequence after the seed message")
	assert.Equal(t, []events.Name{events.ThreadCreated, events.ThreadMessageAdded}, emitter.names())

	created := emitter.events[0].payload.(events.ThreadCreatedPayload)
	assert.Equal(t, "msg-1", created.InitialMessageID)
	store.AssertExpectations(t)
}

func TestCreateThreadInitialMessageRules(t *testing.T) {
	tcases := []struct {
		name  string
		loc   database.MessageLocation
		check func(error) bool
	}{
		{name: "other room", loc: database.MessageLocation{RoomID: "room-2"}, check: IsNotFound},
		{name: "already threaded", loc: database.MessageLocation{RoomID: "room-1", ThreadID: "thread-9"}, check: IsInvalid},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _, _ := newTestService(t, fakeIndex{})
			store.On("GetMessageLocation", "msg-1").Return(tc.loc, nil)

			_, err := svc.CreateThread(context.Background(), alice, CreateThreadInput{
				RoomID: "room-1", Title: "Homework", InitialMessageID: "msg-1",
			})
			assert.True(t, tc.check(err), "unexpected error %v", err)
			store.AssertNotCalled(t, "InTx")
		})
	}
}

func TestCreateSubThread(t *testing.T) {
	t.Run("too deep", func(t *testing.T) {
		svc, store, _, _ := newTestService(t, fakeIndex{})
		store.On("FindByID", "thread-3").Return(database.Thread{ID: "thread-3", RoomID: "room-1", Depth: database.MaxThreadDepth}, nil)

		_, err := svc.CreateSubThread(context.Background(), alice, CreateSubThreadInput{ParentThreadID: "thread-3", Title: "Deeper"})
		assert.True(t, IsInvalid(err), "expected depth limit to be invalid")
		store.AssertNotCalled(t, "CreateSubThread", mock.Anything)
	})

	t.Run("missing parent", func(t *testing.T) {
		svc, store, _, _ := newTestService(t, fakeIndex{})
		store.On("FindByID", "nope").Return(database.Thread{}, database.ErrNotFound)

		_, err := svc.CreateSubThread(context.Background(), alice, CreateSubThreadInput{ParentThreadID: "nope", Title: "Child"})
		assert.True(t, IsNotFound(err), "expected not found")
	})

	t.Run("created", func(t *testing.T) {
		svc, store, _, emitter := newTestService(t, fakeIndex{})
		store.On("FindByID", "thread-1").Return(database.Thread{ID: "thread-1", RoomID: "room-1", RootThreadID: "thread-1"}, nil)
		store.On("CreateSubThread", database.CreateSubThreadParams{
			RoomID:         "room-1",
			Title:          "Cleats",
			CreatedBy:      "alice@example.com",
			ParentThreadID: "thread-1",
		}).Return(database.Thread{ID: "thread-2", RoomID: "room-1", RootThreadID: "thread-1", Depth: 1}, nil)

		thread, err := svc.CreateSubThread(context.Background(), alice, CreateSubThreadInput{ParentThreadID: "thread-1", Title: "Cleats"})
		require.NoError(t, err)
		assert.Equal(t, 1, thread.Depth)
		require.Equal(t, []events.Name{events.SubThreadCreated}, emitter.names())
		payload := emitter.events[0].payload.(events.SubThreadCreatedPayload)
		assert.Equal(t, "thread-1", payload.RootThreadID, "expected root in payload")
	})
}

func TestReply(t *testing.T) {
	t.Run("archived thread", func(t *testing.T) {
		svc, store, msgs, _ := newTestService(t, fakeIndex{})
		store.On("FindByID", "thread-1").Return(database.Thread{ID: "thread-1", RoomID: "room-1", IsArchived: true}, nil)

		_, err := svc.Reply(context.Background(), alice, ReplyInput{ThreadID: "thread-1", Text: "hi"})
		assert.True(t, IsInvalid(err), "expected archived reply to be rejected")
		assert.Empty(t, msgs.created, "expected no message to be created")
	})

	t.Run("creates then attaches", func(t *testing.T) {
		svc, store, msgs, emitter := newTestService(t, fakeIndex{})
		store.On("FindByID", "thread-1").Return(database.Thread{ID: "thread-1", RoomID: "room-1"}, nil)
		store.On("AddMessage", "msg-new", "thread-1").Return(database.AddMessageResult{
			ThreadID: "thread-1", RoomID: "room-1", SequenceNumber: 7, MessageCount: 8,
		}, nil)

		res, err := svc.Reply(context.Background(), alice, ReplyInput{ThreadID: "thread-1", Text: "on my way"})
		require.NoError(t, err)
		assert.Equal(t, ReplyResult{MessageID: "msg-new", ThreadID: "thread-1", SequenceNumber: 7, MessageCount: 8}, res)
		require.Len(t, msgs.created, 1)
		assert.Equal(t, "room-1", msgs.created[0].RoomID, "expected message created in the thread's room")
		assert.Equal(t, []events.Name{events.ThreadMessageAdded}, emitter.names())
	})

	t.Run("attach failure", func(t *testing.T) {
		svc, store, _, emitter := newTestService(t, fakeIndex{})
		store.On("FindByID", "thread-1").Return(database.Thread{ID: "thread-1", RoomID: "room-1"}, nil)
		store.On("AddMessage", "msg-new", "thread-1").Return(database.AddMessageResult{}, errors.New("db down"))

		_, err := svc.Reply(context.Background(), alice, ReplyInput{ThreadID: "thread-1", Text: "on my way"})
		assert.Error(t, err)
		assert.Empty(t, emitter.names(), "expected no event for a failed attach")
	})
}

func TestMoveMessage(t *testing.T) {
	t.Run("already in target", func(t *testing.T) {
		svc, store, _, emitter := newTestService(t, fakeIndex{})
		store.On("GetMessageLocation", "msg-1").Return(database.MessageLocation{MessageID: "msg-1", RoomID: "room-1", ThreadID: "thread-1"}, nil)
		store.On("FindByID", "thread-1").Return(database.Thread{ID: "thread-1", RoomID: "room-1"}, nil)

		res, err := svc.MoveMessage(context.Background(), MoveInput{MessageID: "msg-1", TargetThreadID: "thread-1"})
		require.NoError(t, err, "expected no-op move to succeed")
		assert.True(t, res.NoOp)
		store.AssertNotCalled(t, "InTx")
		store.AssertNotCalled(t, "RemoveMessage", mock.Anything)
		store.AssertNotCalled(t, "AddMessage", mock.Anything, mock.Anything)
		assert.Empty(t, emitter.names())
	})

	t.Run("across rooms", func(t *testing.T) {
		svc, store, _, _ := newTestService(t, fakeIndex{})
		store.On("GetMessageLocation", "msg-1").Return(database.MessageLocation{RoomID: "room-1", ThreadID: "thread-1"}, nil)
		store.On("FindByID", "thread-2").Return(database.Thread{ID: "thread-2", RoomID: "room-2"}, nil)

		_, err := svc.MoveMessage(context.Background(), MoveInput{MessageID: "msg-1", TargetThreadID: "thread-2"})
		assert.True(t, IsInvalid(err), "expected cross-room move to be rejected")
		store.AssertNotCalled(t, "InTx")
	})

	t.Run("between threads", func(t *testing.T) {
		svc, store, _, emitter := newTestService(t, fakeIndex{})
		store.On("GetMessageLocation", "msg-1").Return(database.MessageLocation{RoomID: "room-1", ThreadID: "thread-1"}, nil)
		store.On("FindByID", "thread-2").Return(database.Thread{ID: "thread-2", RoomID: "room-1"}, nil)
		store.On("InTx").Return(nil)
		store.On("RemoveMessage", "msg-1").Return(database.RemoveMessageResult{ThreadID: "thread-1", RoomID: "room-1", MessageCount: 2}, nil)
		store.On("AddMessage", "msg-1", "thread-2").Return(database.AddMessageResult{
			ThreadID: "thread-2", RoomID: "room-1", SequenceNumber: 5, MessageCount: 6,
		}, nil)

		res, err := svc.MoveMessage(context.Background(), MoveInput{MessageID: "msg-1", TargetThreadID: "thread-2"})
		require.NoError(t, err)
		assert.Equal(t, []AffectedThread{{ThreadID: "thread-1", MessageCount: 2}, {ThreadID: "thread-2", MessageCount: 6}}, res.Affected)
		require.NotNil(t, res.SequenceNumber)
		assert.Equal(t, int64(5), *res.SequenceNumber)

		require.Equal(t, []events.Name{events.ThreadMessageAdded}, emitter.names())
		payload := emitter.events[0].payload.(events.ThreadMessageAddedPayload)
		assert.Equal(t, "thread-1", payload.MovedFrom, "expected source thread in payload")
	})

	t.Run("add fails", func(t *testing.T) {
		svc, store, _, emitter := newTestService(t, fakeIndex{})
		store.On("GetMessageLocation", "msg-1").Return(database.MessageLocation{RoomID: "room-1", ThreadID: "thread-1"}, nil)
		store.On("FindByID", "thread-2").Return(database.Thread{ID: "thread-2", RoomID: "room-1"}, nil)
		store.On("InTx").Return(nil)
		store.On("RemoveMessage", "msg-1").Return(database.RemoveMessageResult{ThreadID: "thread-1", RoomID: "room-1", MessageCount: 2}, nil)
		store.On("AddMessage", "msg-1", "thread-2").Return(database.AddMessageResult{}, errors.New("deadlock detected"))

		_, err := svc.MoveMessage(context.Background(), MoveInput{MessageID: "msg-1", TargetThreadID: "thread-2"})
		assert.Error(t, err, "expected move to fail")
		assert.False(t, IsInvalid(err) || IsNotFound(err), "expected an internal error")
		assert.Empty(t, emitter.names(), "expected no event for a rolled back move")
	})

	t.Run("to main chat", func(t *testing.T) {
		svc, store, _, emitter := newTestService(t, fakeIndex{})
		store.On("GetMessageLocation", "msg-1").Return(database.MessageLocation{RoomID: "room-1", ThreadID: "thread-1"}, nil)
		store.On("InTx").Return(nil)
		store.On("RemoveMessage", "msg-1").Return(database.RemoveMessageResult{ThreadID: "thread-1", RoomID: "room-1", MessageCount: 0}, nil)

		res, err := svc.MoveMessage(context.Background(), MoveInput{MessageID: "msg-1"})
		require.NoError(t, err)
		assert.Equal(t, []AffectedThread{{ThreadID: "thread-1", MessageCount: 0}}, res.Affected)
		store.AssertNotCalled(t, "AddMessage", mock.Anything, mock.Anything)
		assert.Empty(t, emitter.names())
	})
}

func TestArchiveThread(t *testing.T) {
	descendants := []database.Thread{
		{ID: "thread-b", RoomID: "room-1", Depth: 1},
		{ID: "thread-c", RoomID: "room-1", Depth: 2},
		{ID: "thread-d", RoomID: "room-1", Depth: 1, IsArchived: true},
	}

	t.Run("cascade", func(t *testing.T) {
		svc, store, _, emitter := newTestService(t, fakeIndex{})
		store.On("FindByID", "thread-a").Return(database.Thread{ID: "thread-a", RoomID: "room-1"}, nil)
		store.On("InTx").Return(nil)
		store.On("GetDescendants", "thread-a").Return(descendants, nil)
		store.On("Archive", mock.Anything, true).Return(nil)

		res, err := svc.ArchiveThread(context.Background(), ArchiveInput{ThreadID: "thread-a", Archived: true, Cascade: true})
		require.NoError(t, err)
		want := []string{"thread-a", "thread-b", "thread-c"}
		assert.Equal(t, want, res.AffectedThreadIDs)
		for _, id := range want {
			store.AssertCalled(t, "Archive", id, true)
		}
		store.AssertNotCalled(t, "Archive", "thread-d", true)

		require.Equal(t, []events.Name{events.ThreadArchived}, emitter.names(), "expected exactly one event")
		payload := emitter.events[0].payload.(events.ThreadArchivedPayload)
		assert.Equal(t, want, payload.AffectedThreadIDs)
		assert.True(t, payload.Cascade)
	})

	t.Run("unarchive never cascades", func(t *testing.T) {
		svc, store, _, emitter := newTestService(t, fakeIndex{})
		store.On("FindByID", "thread-a").Return(database.Thread{ID: "thread-a", RoomID: "room-1", IsArchived: true}, nil)
		store.On("InTx").Return(nil)
		store.On("Archive", "thread-a", false).Return(nil)

		res, err := svc.ArchiveThread(context.Background(), ArchiveInput{ThreadID: "thread-a", Archived: false, Cascade: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"thread-a"}, res.AffectedThreadIDs)
		store.AssertNotCalled(t, "GetDescendants", mock.Anything)
		payload := emitter.events[0].payload.(events.ThreadArchivedPayload)
		assert.False(t, payload.Cascade, "expected cascade to be reported off")
	})

	t.Run("failure emits nothing", func(t *testing.T) {
		svc, store, _, emitter := newTestService(t, fakeIndex{})
		store.On("FindByID", "thread-a").Return(database.Thread{ID: "thread-a", RoomID: "room-1"}, nil)
		store.On("InTx").Return(nil)
		store.On("GetDescendants", "thread-a").Return(descendants, nil)
		store.On("Archive", "thread-a", true).Return(nil)
		store.On("Archive", "thread-b", true).Return(errors.New("connection reset"))

		_, err := svc.ArchiveThread(context.Background(), ArchiveInput{ThreadID: "thread-a", Archived: true, Cascade: true})
		assert.Error(t, err)
		assert.Empty(t, emitter.names())
	})
}

func TestSuggestThread(t *testing.T) {
	t.Run("semantic vote", func(t *testing.T) {
		svc, store, _, _ := newTestService(t, fakeIndex{similar: []string{"m1", "m2", "m3", "m4"}})
		store.On("ThreadIDsForMessages", []string{"m1", "m2", "m3", "m4"}).
			Return(map[string]string{"m1": "thread-2", "m2": "thread-1", "m3": "thread-1"}, nil)
		store.On("FindByID", "thread-1").Return(database.Thread{ID: "thread-1", RoomID: "room-1", Title: "Dentist", Category: "medical"}, nil)

		sug, err := svc.SuggestThread(context.Background(), SuggestInput{RoomID: "room-1", Text: "teeth", Embedding: []float64{0.1, 0.2}})
		require.NoError(t, err)
		assert.Equal(t, Suggestion{ThreadID: "thread-1", Title: "Dentist", Category: "medical", Score: 0.5, Source: SourceSemantic}, sug)
		store.AssertNotCalled(t, "FindByRoomID", mock.Anything, mock.Anything)
	})

	t.Run("index failure falls back", func(t *testing.T) {
		svc, store, _, _ := newTestService(t, fakeIndex{err: errors.New("graph down")})
		store.On("FindByRoomID", "room-1", database.ListOptions{Limit: maxSuggestCandidates}).Return([]database.Thread{
			{ID: "thread-1", RoomID: "room-1", Title: "Homework help", Category: "education"},
		}, nil)

		sug, err := svc.SuggestThread(context.Background(), SuggestInput{RoomID: "room-1", Text: "homework due friday", Embedding: []float64{0.1}})
		require.NoError(t, err)
		assert.Equal(t, "thread-1", sug.ThreadID)
		assert.Equal(t, SourceKeywords, sug.Source)
	})

	t.Run("no match proposes category", func(t *testing.T) {
		svc, store, _, _ := newTestService(t, fakeIndex{})
		store.On("FindByRoomID", "room-1", database.ListOptions{Limit: maxSuggestCandidates}).Return([]database.Thread{}, nil)

		sug, err := svc.SuggestThread(context.Background(), SuggestInput{RoomID: "room-1", Text: "passports expire soon"})
		require.NoError(t, err)
		assert.Empty(t, sug.ThreadID)
		assert.Equal(t, "travel", sug.Category)
	})
}

func TestWrapStoreError(t *testing.T) {
	tcases := []struct {
		err  error
		kind Kind
	}{
		{database.ErrNotFound, KindNotFound},
		{database.ErrMaxDepth, KindInvalid},
		{database.ErrAlreadyAssigned, KindInvalid},
		{errors.New("boom"), KindInternal},
		{NewNotFoundError("gone"), KindNotFound},
	}
	for _, tc := range tcases {
		got := wrapStoreError("op", tc.err)
		assert.Equal(t, tc.kind, got.Kind, "unexpected kind for %v", tc.err)
		assert.ErrorIs(t, got, tc.err)
	}
}
