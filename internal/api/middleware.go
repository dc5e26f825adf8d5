package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-chatcore/internal/threads"
	"github.com/rs/zerolog"
)

type identityKey struct{}

func WithIdentity(ctx context.Context, id threads.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFromContext(ctx context.Context) threads.Identity {
	id, _ := ctx.Value(identityKey{}).(threads.Identity)
	return id
}

func (s *Server) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error().Err(panicError).Str("path", r.URL.Path).Msg("panic")
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) identityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		if userID == "" {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		username := r.Header.Get(usernameHeader)
		if username == "" {
			username = userID
		}

		ctx := WithIdentity(r.Context(), threads.Identity{UserID: userID, Username: username})
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

// zerologWriter feeds access log lines into the structured logger.
type zerologWriter struct {
	log zerolog.Logger
}

func (z zerologWriter) Write(p []byte) (int, error) {
	z.log.Info().Msg(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
