package httpapi

import (
	"net/http"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/cache"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/observability"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/reliability"
)

type healthResponse struct {
	Status         string                       `json:"status"`
	ActiveSessions int                          `json:"active_sessions"`
	BusySessions   int                          `json:"busy_sessions"`
	Cache          *cache.Stats                 `json:"cache,omitempty"`
	Providers      []reliability.BreakerStatus  `json:"providers"`
	HistorySink    string                       `json:"history_sink"`
	Latency        *observability.StageSnapshot `json:"latency,omitempty"`
}

// handleHealth reports "degraded" while any provider breaker is not closed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Providers:   []reliability.BreakerStatus{},
		HistorySink: s.history,
	}
	if s.sessions != nil {
		resp.ActiveSessions = s.sessions.ActiveCount()
		resp.BusySessions = s.sessions.BusyCount()
	}
	if s.answers != nil {
		st := s.answers.Stats(r.Context())
		resp.Cache = &st
	}
	if s.health != nil {
		resp.Providers = s.health.Health()
		for _, p := range resp.Providers {
			if !p.Healthy {
				resp.Status = "degraded"
			}
		}
	}
	if s.metrics != nil {
		snap := s.metrics.Stages.Snapshot()
		resp.Latency = &snap
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.answers == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "answer cache not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.answers.Stats(r.Context()))
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.answers == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "answer cache not configured")
		return
	}
	if err := s.answers.Clear(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "cache_clear_failed", err.Error())
		return
	}
	observability.Logger(r.Context()).Info("answer cache cleared")
	respondJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}
