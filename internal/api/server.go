// Package api serves the thread use cases and the operational endpoints of a
// chatcore instance over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
)

// Pinger reports whether the relational store answers. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependency reports the availability of an optional backend.
type Dependency interface {
	Available() bool
}

type Options struct {
	Addr string
	// Threads serves the /api routes. They are not registered when nil.
	Threads ThreadService
	DB      Pinger
	// Dependencies are reported by name in the health response but never
	// fail it.
	Dependencies map[string]Dependency
	Metrics      http.Handler
}

type Server struct {
	log     zerolog.Logger
	threads ThreadService
	db      Pinger
	deps    map[string]Dependency
	srv     *http.Server
}

func NewServer(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		log:     logger.With().Str("component", "api").Logger(),
		threads: opts.Threads,
		db:      opts.DB,
		deps:    opts.Dependencies,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthCheck)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	if opts.Threads != nil {
		s.registerThreadRoutes(mux)
	}

	h := handlers.CombinedLoggingHandler(zerologWriter{s.log}, mux)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    opts.Addr,
		Handler: h,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
