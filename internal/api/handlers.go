package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

type HealthResponse struct {
	Status       string          `json:"status"`
	Database     bool            `json:"database"`
	Dependencies map[string]bool `json:"dependencies"`
}

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

// healthCheck fails only when the relational store is down. Optional
// dependencies are reported but never change the status code.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		Database:     true,
		Dependencies: make(map[string]bool, len(s.deps)),
	}
	for name, d := range s.deps {
		resp.Dependencies[name] = d.Available()
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		resp.Status = "unavailable"
		resp.Database = false
		s.writeJson(w, http.StatusServiceUnavailable, resp)
		return
	}

	s.writeJson(w, http.StatusOK, resp)
}
