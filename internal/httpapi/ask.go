package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/protocol"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/tutor"
)

const maxImageBodyBytes = 12 << 20

type askRequest struct {
	UserID       string `json:"user_id"`
	VideoID      string `json:"video_id"`
	QuestionText string `json:"question_text"`
	Text         string `json:"text"`
	Language     string `json:"language"`
	AudioOutput  *bool  `json:"audio_output"`
	RequestID    string `json:"request_id"`
}

func (r askRequest) question() string {
	if q := strings.TrimSpace(r.QuestionText); q != "" {
		return q
	}
	return strings.TrimSpace(r.Text)
}

// handleAsk answers a typed question as a server-sent event stream.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if s.tutor == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orchestrator not configured")
		return
	}

	events, err := s.tutor.Submit(r.Context(), tutor.Request{
		UserID:    req.UserID,
		VideoID:   req.VideoID,
		Language:  req.Language,
		Audio:     req.AudioOutput,
		Input:     tutor.TextInput{Text: req.question()},
		RequestID: req.RequestID,
	})
	if s.rejectSubmit(w, err) {
		return
	}
	s.trackSessions()
	s.streamEvents(w, events)
}

type processImageRequest struct {
	UserID      string `json:"user_id"`
	VideoID     string `json:"video_id"`
	ImageBase64 string `json:"image_base64"`
	MIMEType    string `json:"mime_type"`
	Question    string `json:"question"`
	Language    string `json:"language"`
	AudioOutput *bool  `json:"audio_output"`
	RequestID   string `json:"request_id"`
}

// handleProcessImage answers a question about an uploaded image. Clients
// that accept text/event-stream get the same stream as /api/ask; everyone
// else gets the terminal event as a single JSON document.
func (s *Server) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBodyBytes)
	var req processImageRequest
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "image_too_large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	data, mime, err := decodeImage(req.ImageBase64, req.MIMEType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_image", err.Error())
		return
	}
	if s.tutor == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orchestrator not configured")
		return
	}

	events, err := s.tutor.Submit(r.Context(), tutor.Request{
		UserID:    req.UserID,
		VideoID:   req.VideoID,
		Language:  req.Language,
		Audio:     req.AudioOutput,
		Input:     tutor.ImageInput{Data: data, MIMEType: mime, Question: req.Question},
		RequestID: req.RequestID,
	})
	if s.rejectSubmit(w, err) {
		return
	}
	s.trackSessions()

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamEvents(w, events)
		return
	}

	var last tutor.Event
	for ev := range events {
		last = ev
	}
	typ, msg := protocol.FromEvent(last)
	if typ == protocol.TypeDone {
		respondJSON(w, http.StatusOK, msg)
		return
	}
	respondJSON(w, statusForReason(last.Reason), msg)
}

// streamEvents relays an orchestrator stream as server-sent events until the
// stream closes. A client that goes away cancels the request context, which
// ends the stream with a cancelled failure.
func (s *Server) streamEvents(w http.ResponseWriter, events <-chan tutor.Event) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	broken := false
	for ev := range events {
		if broken {
			continue
		}
		typ, msg := protocol.FromEvent(ev)
		if err := writeSSE(w, typ, msg); err != nil {
			broken = true
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("sse", string(typ)).Inc()
		}
	}
	s.trackSessions()
}

func writeSSE(w http.ResponseWriter, typ protocol.MessageType, msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, raw)
	return err
}

func statusForReason(reason tutor.Reason) int {
	switch reason {
	case tutor.ReasonNormalization:
		return http.StatusUnprocessableEntity
	case tutor.ReasonRateLimited:
		return http.StatusTooManyRequests
	case tutor.ReasonProviderPermanent:
		return http.StatusBadGateway
	case tutor.ReasonCancelled:
		return 499
	default:
		return http.StatusServiceUnavailable
	}
}

// decodeImage accepts plain base64 or a data URL. The MIME type comes from
// the data URL, then the explicit field, then content sniffing.
func decodeImage(encoded, mime string) ([]byte, string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, "", errors.New("image_base64 is required")
	}
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", errors.New("malformed data URL")
		}
		if m, _, _ := strings.Cut(header, ";"); m != "" {
			mime = m
		}
		encoded = payload
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("decode image_base64: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("image is empty")
	}
	mime = strings.TrimSpace(mime)
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", fmt.Errorf("unsupported image type %q", mime)
	}
	return data, mime, nil
}
