package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/catalog"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/language"
)

type listVideosResponse struct {
	Videos []catalog.Video `json:"videos"`
	Count  int             `json:"count"`
}

func (s *Server) handleListVideos(w http.ResponseWriter, _ *http.Request) {
	if s.videos == nil {
		respondJSON(w, http.StatusOK, listVideosResponse{Videos: []catalog.Video{}})
		return
	}
	videos := s.videos.List()
	respondJSON(w, http.StatusOK, listVideosResponse{Videos: videos, Count: len(videos)})
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVideo(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// handleVideoContext returns the prompt context the tutor uses for a video.
func (s *Server) handleVideoContext(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVideo(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"video_id":    v.ID,
		"context_ref": s.videos.ContextRef(v.ID),
	})
}

func (s *Server) lookupVideo(w http.ResponseWriter, id string) (catalog.Video, bool) {
	if s.videos == nil {
		respondError(w, http.StatusNotFound, "video_not_found", catalog.ErrNotFound.Error())
		return catalog.Video{}, false
	}
	v, err := s.videos.Get(id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondError(w, http.StatusNotFound, "video_not_found", err.Error())
			return catalog.Video{}, false
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return catalog.Video{}, false
	}
	return v, true
}

type listLanguagesResponse struct {
	Default   string              `json:"default"`
	Languages []language.Language `json:"languages"`
}

func (s *Server) handleListLanguages(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, listLanguagesResponse{
		Default:   language.Default,
		Languages: language.All(),
	})
}
