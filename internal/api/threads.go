package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/threads"
)

// Identity headers are set by the gateway after authentication.
const (
	userIDHeader   = "X-User-Id"
	usernameHeader = "X-Username"
)

type ThreadService interface {
	CreateThread(ctx context.Context, id threads.Identity, in threads.CreateThreadInput) (database.Thread, error)
	CreateSubThread(ctx context.Context, id threads.Identity, in threads.CreateSubThreadInput) (database.Thread, error)
	Reply(ctx context.Context, id threads.Identity, in threads.ReplyInput) (threads.ReplyResult, error)
	MoveMessage(ctx context.Context, in threads.MoveInput) (threads.MoveResult, error)
	ArchiveThread(ctx context.Context, in threads.ArchiveInput) (threads.ArchiveResult, error)
	SuggestThread(ctx context.Context, in threads.SuggestInput) (threads.Suggestion, error)
}

type CreateThreadRequest struct {
	RoomID           string `json:"roomId"`
	Title            string `json:"title"`
	Category         string `json:"category"`
	InitialMessageID string `json:"initialMessageId"`
}

type CreateSubThreadRequest struct {
	Title           string `json:"title"`
	Category        string `json:"category"`
	ParentMessageID string `json:"parentMessageId"`
}

type ReplyRequest struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type MoveRequest struct {
	TargetThreadID string `json:"targetThreadId"`
}

type ArchiveRequest struct {
	Archived bool `json:"archived"`
	Cascade  bool `json:"cascade"`
}

type SuggestRequest struct {
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding"`
}

func (s *Server) registerThreadRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/threads", s.identityMiddleware(s.createThread))
	mux.HandleFunc("POST /api/threads/{id}/subthreads", s.identityMiddleware(s.createSubThread))
	mux.HandleFunc("POST /api/threads/{id}/replies", s.identityMiddleware(s.reply))
	mux.HandleFunc("POST /api/threads/{id}/archive", s.identityMiddleware(s.archiveThread))
	mux.HandleFunc("POST /api/messages/{id}/move", s.identityMiddleware(s.moveMessage))
	mux.HandleFunc("POST /api/rooms/{id}/suggest", s.identityMiddleware(s.suggestThread))
}

// writeThreadError maps use case errors onto status codes.
func (s *Server) writeThreadError(w http.ResponseWriter, err error) {
	var errResp *ApiError
	switch {
	case threads.IsNotFound(err):
		errResp = NewNotFoundError(err)
	case threads.IsInvalid(err):
		errResp = NewBadRequestError(err)
	default:
		s.log.Error().Err(err).Msg("thread operation failed")
		errResp = NewInternalServerError(err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errResp := NewBadRequestError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}
	return true
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if !s.decode(w, r, &req) {
		return
	}

	thread, err := s.threads.CreateThread(r.Context(), identityFromContext(r.Context()), threads.CreateThreadInput{
		RoomID:           req.RoomID,
		Title:            req.Title,
		Category:         req.Category,
		InitialMessageID: req.InitialMessageID,
	})
	if err != nil {
		s.writeThreadError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, thread)
}

func (s *Server) createSubThread(w http.ResponseWriter, r *http.Request) {
	var req CreateSubThreadRequest
	if !s.decode(w, r, &req) {
		return
	}

	thread, err := s.threads.CreateSubThread(r.Context(), identityFromContext(r.Context()), threads.CreateSubThreadInput{
		ParentThreadID:  r.PathValue("id"),
		Title:           req.Title,
		Category:        req.Category,
		ParentMessageID: req.ParentMessageID,
	})
	if err != nil {
		s.writeThreadError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, thread)
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.threads.Reply(r.Context(), identityFromContext(r.Context()), threads.ReplyInput{
		ThreadID: r.PathValue("id"),
		Text:     req.Text,
		Type:     req.Type,
	})
	if err != nil {
		s.writeThreadError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, res)
}

func (s *Server) archiveThread(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.threads.ArchiveThread(r.Context(), threads.ArchiveInput{
		ThreadID: r.PathValue("id"),
		Archived: req.Archived,
		Cascade:  req.Cascade,
	})
	if err != nil {
		s.writeThreadError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, res)
}

func (s *Server) moveMessage(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.threads.MoveMessage(r.Context(), threads.MoveInput{
		MessageID:      r.PathValue("id"),
		TargetThreadID: req.TargetThreadID,
	})
	if err != nil {
		s.writeThreadError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, res)
}

func (s *Server) suggestThread(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Embedding) == 0 {
		errResp := NewBadRequestError(nil)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	res, err := s.threads.SuggestThread(r.Context(), threads.SuggestInput{
		RoomID:    r.PathValue("id"),
		Text:      req.Text,
		Embedding: req.Embedding,
	})
	if err != nil {
		s.writeThreadError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, res)
}
