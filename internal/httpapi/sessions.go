package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/language"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/session"
)

type sessionRequest struct {
	UserID       string  `json:"user_id"`
	VideoID      string  `json:"video_id"`
	Language     *string `json:"language,omitempty"`
	AudioEnabled *bool   `json:"audio_enabled,omitempty"`
}

func (r sessionRequest) key() session.Key {
	return session.Key{UserID: strings.TrimSpace(r.UserID), VideoID: strings.TrimSpace(r.VideoID)}
}

// handleSessionSettings changes the language or audio preference of a
// session, creating it when it does not exist yet.
func (s *Server) handleSessionSettings(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	key := req.key()
	if !key.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_request", session.ErrInvalidKey.Error())
		return
	}
	settings := session.Settings{AudioEnabled: req.AudioEnabled}
	if req.Language != nil {
		code := strings.ToLower(strings.TrimSpace(*req.Language))
		if !language.Supported(code) {
			respondError(w, http.StatusBadRequest, "unsupported_language", "unsupported language "+*req.Language)
			return
		}
		settings.Language = &code
	}

	sess, err := s.sessions.Update(r.Context(), key, settings, s.defaults)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.trackSessions()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess, err := s.sessions.End(req.key())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		case errors.Is(err, session.ErrBusy):
			respondError(w, http.StatusConflict, "busy", "a question is still being answered")
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	s.trackSessions()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ended",
		"session_id": sess.ID,
		"turn_count": sess.TurnCount,
	})
}

type sessionHistoryResponse struct {
	SessionID string         `json:"session_id"`
	Language  string         `json:"language"`
	History   []session.Turn `json:"history"`
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := session.Key{UserID: strings.TrimSpace(q.Get("user_id")), VideoID: strings.TrimSpace(q.Get("video_id"))}
	if !key.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_request", session.ErrInvalidKey.Error())
		return
	}
	sess, err := s.sessions.Get(key)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	history := sess.History
	if history == nil {
		history = []session.Turn{}
	}
	respondJSON(w, http.StatusOK, sessionHistoryResponse{
		SessionID: sess.ID,
		Language:  sess.Language,
		History:   history,
	})
}
