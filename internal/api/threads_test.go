package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/testutil"
	"github.com/npezzotti/go-chatcore/internal/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = threads.Identity{UserID: "u-1", Username: "alice"}

func newThreadServer(t *testing.T) (*Server, *MockThreadService) {
	t.Helper()
	svc := &MockThreadService{}
	t.Cleanup(func() { svc.AssertExpectations(t) })
	return NewServer(Options{Threads: svc, DB: fakePinger{}}, testutil.TestLogger(t)), svc
}

func doRequest(s *Server, method, path string, body any, identified bool) *httptest.ResponseRecorder {
	buf := &bytes.Buffer{}
	if body != nil {
		json.NewEncoder(buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, buf)
	if identified {
		req.Header.Set(userIDHeader, alice.UserID)
		req.Header.Set(usernameHeader, alice.Username)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestCreateThreadHandler(t *testing.T) {
	tcases := []struct {
		name         string
		body         any
		identified   bool
		mockThread   database.Thread
		mockErr      error
		callsService bool
		expectedCode int
	}{
		{
			name:         "creates a thread",
			body:         CreateThreadRequest{RoomID: "room-1", Title: "Soccer practice", Category: "activities"},
			identified:   true,
			mockThread:   database.Thread{ID: "thread-1", RoomID: "room-1", Title: "Soccer practice", Category: "activities"},
			callsService: true,
			expectedCode: http.StatusCreated,
		},
		{
			name:         "rejects anonymous callers",
			body:         CreateThreadRequest{RoomID: "room-1", Title: "Soccer practice"},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "rejects invalid json",
			body:         "not an object",
			identified:   true,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "maps invalid input",
			body:         CreateThreadRequest{RoomID: "room-1", Title: "x"},
			identified:   true,
			mockErr:      threads.NewInvalidError("title must be between 3 and 100 characters"),
			callsService: true,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "maps missing initial message",
			body:         CreateThreadRequest{RoomID: "room-1", Title: "Soccer practice", InitialMessageID: "msg-9"},
			identified:   true,
			mockErr:      threads.NewNotFoundError("message msg-9 not found in room room-1"),
			callsService: true,
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "maps internal errors",
			body:         CreateThreadRequest{RoomID: "room-1", Title: "Soccer practice"},
			identified:   true,
			mockErr:      threads.NewInternalError("create thread", errors.New("connection reset")),
			callsService: true,
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			s, svc := newThreadServer(t)
			if tc.callsService {
				req := tc.body.(CreateThreadRequest)
				svc.On("CreateThread", alice, threads.CreateThreadInput{
					RoomID:           req.RoomID,
					Title:            req.Title,
					Category:         req.Category,
					InitialMessageID: req.InitialMessageID,
				}).Return(tc.mockThread, tc.mockErr).Once()
			}

			rr := doRequest(s, http.MethodPost, "/api/threads", tc.body, tc.identified)
			assert.Equal(t, tc.expectedCode, rr.Code, "expected status code to match")

			if tc.expectedCode == http.StatusCreated {
				var got database.Thread
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, tc.mockThread, got, "expected thread in response")
				assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
				return
			}

			var apiErr ApiError
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
			assert.Equal(t, tc.expectedCode, apiErr.StatusCode)
			if tc.expectedCode == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", apiErr.Message, "expected internal details to stay hidden")
			}
		})
	}
}

func TestCreateSubThreadHandler(t *testing.T) {
	s, svc := newThreadServer(t)
	svc.On("CreateSubThread", alice, threads.CreateSubThreadInput{
		ParentThreadID:  "thread-1",
		Title:           "Cleats",
		ParentMessageID: "msg-2",
	}).Return(database.Thread{ID: "thread-2", Depth: 1}, nil)

	rr := doRequest(s, http.MethodPost, "/api/threads/thread-1/subthreads", CreateSubThreadRequest{Title: "Cleats", ParentMessageID: "msg-2"}, true)
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestReplyHandler(t *testing.T) {
	s, svc := newThreadServer(t)
	svc.On("Reply", alice, threads.ReplyInput{ThreadID: "thread-1", Text: "on my way"}).
		Return(threads.ReplyResult{MessageID: "msg-3", ThreadID: "thread-1", SequenceNumber: 4, MessageCount: 5}, nil)

	rr := doRequest(s, http.MethodPost, "/api/threads/thread-1/replies", ReplyRequest{Text: "on my way"}, true)
	require.Equal(t, http.StatusCreated, rr.Code)

	var got threads.ReplyResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, int64(4), got.SequenceNumber)
}

func TestArchiveHandler(t *testing.T) {
	s, svc := newThreadServer(t)
	svc.On("ArchiveThread", threads.ArchiveInput{ThreadID: "thread-1", Archived: true, Cascade: true}).
		Return(threads.ArchiveResult{ThreadID: "thread-1", Archived: true, AffectedThreadIDs: []string{"thread-1", "thread-2"}}, nil)

	rr := doRequest(s, http.MethodPost, "/api/threads/thread-1/archive", ArchiveRequest{Archived: true, Cascade: true}, true)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMoveHandler(t *testing.T) {
	s, svc := newThreadServer(t)
	svc.On("MoveMessage", threads.MoveInput{MessageID: "msg-1", TargetThreadID: "thread-2"}).
		Return(threads.MoveResult{}, threads.NewInvalidError("thread thread-2 is archived"))

	rr := doRequest(s, http.MethodPost, "/api/messages/msg-1/move", MoveRequest{TargetThreadID: "thread-2"}, true)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var apiErr ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
	assert.Equal(t, "thread thread-2 is archived", apiErr.Message)
}

func TestSuggestHandler(t *testing.T) {
	s, svc := newThreadServer(t)
	svc.On("SuggestThread", threads.SuggestInput{RoomID: "room-1", Text: "flight lands at 6"}).
		Return(threads.Suggestion{Category: "travel", Source: threads.SourceKeywords}, nil)

	rr := doRequest(s, http.MethodPost, "/api/rooms/room-1/suggest", SuggestRequest{Text: "flight lands at 6"}, true)
	require.Equal(t, http.StatusOK, rr.Code)

	var got threads.Suggestion
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "travel", got.Category)

	rr = doRequest(s, http.MethodPost, "/api/rooms/room-1/suggest", SuggestRequest{}, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "expected empty request to be rejected")
}
