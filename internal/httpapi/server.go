package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/cache"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/catalog"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/config"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/observability"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/reliability"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/session"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/tutor"
)

type Orchestrator interface {
	Submit(ctx context.Context, req tutor.Request) (<-chan tutor.Event, error)
}

// ProviderHealth reports one status per provider capability.
type ProviderHealth interface {
	Health() []reliability.BreakerStatus
}

// Deps are the collaborators served over HTTP. Providers may be nil.
type Deps struct {
	Sessions    *session.Store
	Defaults    session.Defaults
	Tutor       Orchestrator
	Answers     *cache.Service
	Videos      *catalog.Catalog
	Providers   ProviderHealth
	Metrics     *observability.Metrics
	HistoryKind string
}

type Server struct {
	cfg      config.Config
	sessions *session.Store
	defaults session.Defaults
	tutor    Orchestrator
	answers  *cache.Service
	videos   *catalog.Catalog
	health   ProviderHealth
	metrics  *observability.Metrics
	history  string
	upgrader websocket.Upgrader
}

func New(cfg config.Config, d Deps) *Server {
	return &Server{
		cfg:      cfg,
		sessions: d.Sessions,
		defaults: d.Defaults,
		tutor:    d.Tutor,
		answers:  d.Answers,
		videos:   d.Videos,
		health:   d.Providers,
		metrics:  d.Metrics,
		history:  d.HistoryKind,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/ask", s.handleAsk)
		r.Post("/process-image", s.handleProcessImage)
		r.Get("/ws", s.handleWS)

		r.Get("/videos", s.handleListVideos)
		r.Get("/videos/{id}", s.handleGetVideo)
		r.Get("/videos/{id}/context", s.handleVideoContext)
		r.Get("/languages", s.handleListLanguages)

		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/cache/clear", s.handleCacheClear)

		r.Post("/session/settings", s.handleSessionSettings)
		r.Post("/session/end", s.handleEndSession)
		r.Get("/session/history", s.handleSessionHistory)
	})

	return r
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.tutor == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orchestrator not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"history_sink": s.history,
	})
}

// rejectSubmit writes the synchronous rejection for err and reports whether
// it did.
func (s *Server) rejectSubmit(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, tutor.ErrBusy):
		respondError(w, http.StatusConflict, "busy", "a previous question is still being answered")
	case errors.Is(err, tutor.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
	return true
}

func (s *Server) trackSessions() {
	if s.metrics == nil || s.sessions == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
