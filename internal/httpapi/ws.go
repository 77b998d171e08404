package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/observability"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/protocol"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/recording"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/session"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/tutor"
)

// handleWS serves one bidirectional connection for a (user, video) session.
// Typed questions and voice captures share the session's busy rule with the
// HTTP endpoints.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := session.Key{UserID: strings.TrimSpace(q.Get("user_id")), VideoID: strings.TrimSpace(q.Get("video_id"))}
	if !key.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_request", session.ErrInvalidKey.Error())
		return
	}
	if s.tutor == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	if _, err := s.sessions.Open(r.Context(), key, s.defaults); err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.trackSessions()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.countSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{
		s:        s,
		ctx:      ctx,
		key:      key,
		language: strings.TrimSpace(q.Get("language")),
		out:      make(chan any, 256),
		log:      observability.Logger(ctx).With("session", key.String()),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.out:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					c.log.Debug("websocket write failed", "error", err)
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.countWSMessage("outbound", t)
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.fail("", protocol.ReasonInvalidRequest, err.Error())
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.countWSMessage("inbound", t)
		}
		c.dispatch(parsed)
	}

	cancel()
	c.shutdown()
	<-writerDone
	s.countSessionEvent("ws_disconnected")
}

// wsConn is the per-connection state: at most one recording and the cancel
// function of the request it last submitted.
type wsConn struct {
	s        *Server
	ctx      context.Context
	key      session.Key
	language string
	out      chan any
	log      *slog.Logger
	relays   sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	reqSeq    uint64
	cancelReq context.CancelFunc
	rec       *recording.Machine
	recRate   int
}

func (c *wsConn) dispatch(msg any) {
	switch m := msg.(type) {
	case protocol.Ask:
		if (m.UserID != "" && m.UserID != c.key.UserID) || (m.VideoID != "" && m.VideoID != c.key.VideoID) {
			c.fail(m.RequestID, protocol.ReasonInvalidRequest, "ask must use the session the connection was opened for")
			return
		}
		c.submit(tutor.Request{
			UserID:    c.key.UserID,
			VideoID:   c.key.VideoID,
			Language:  firstNonEmpty(m.Language, c.language),
			Input:     tutor.TextInput{Text: m.Text},
			RequestID: m.RequestID,
		})
	case protocol.StartRecording:
		c.startRecording(m)
	case protocol.AudioChunk:
		c.writeAudio(m)
	case protocol.StopRecording:
		c.mu.Lock()
		rec := c.rec
		c.mu.Unlock()
		if rec == nil {
			c.fail("", protocol.ReasonRecording, recording.ErrNotCapturing.Error())
			return
		}
		if err := rec.Stop(); err != nil {
			c.fail("", protocol.ReasonRecording, err.Error())
		}
	case protocol.Cancel:
		c.mu.Lock()
		cancelReq, rec := c.cancelReq, c.rec
		c.mu.Unlock()
		if rec != nil {
			rec.Cancel()
		}
		if cancelReq != nil {
			cancelReq()
		}
	}
}

// submit hands req to the orchestrator and relays its stream to the client.
// Submit may block on session seeding, so it runs without c.mu held.
func (c *wsConn) submit(req tutor.Request) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	reqCtx, reqCancel := context.WithCancel(c.ctx)
	events, err := c.s.tutor.Submit(reqCtx, req)
	if err != nil {
		reqCancel()
		reason := protocol.ReasonInvalidRequest
		if errors.Is(err, tutor.ErrBusy) {
			reason = protocol.ReasonBusy
		}
		c.fail(req.RequestID, reason, err.Error())
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		reqCancel()
		go func() {
			for range events {
			}
		}()
		return
	}
	c.reqSeq++
	seq := c.reqSeq
	c.cancelReq = reqCancel
	c.relays.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.relays.Done()
		for ev := range events {
			_, msg := protocol.FromEvent(ev)
			c.send(msg)
		}
		reqCancel()
		c.mu.Lock()
		if c.reqSeq == seq {
			c.cancelReq = nil
		}
		c.mu.Unlock()
	}()
}

func (c *wsConn) startRecording(m protocol.StartRecording) {
	rate := m.SampleRate
	if rate <= 0 {
		rate = recording.DefaultSampleRate
	}
	lang := firstNonEmpty(m.Language, c.language)

	c.mu.Lock()
	if c.rec != nil && c.rec.State() != recording.StateIdle {
		c.mu.Unlock()
		c.fail("", protocol.ReasonRecording, recording.ErrNotIdle.Error())
		return
	}
	rec := recording.New(recording.Config{
		SilenceTimeout: c.s.cfg.RecordingSilenceTimeout,
		MaxDuration:    c.s.cfg.RecordingMaxDuration,
		SampleRate:     rate,
		OnState: func(st recording.State, trigger recording.Trigger) {
			c.send(protocol.RecordingState{
				Type:    protocol.TypeRecordingState,
				State:   st.String(),
				Trigger: string(trigger),
			})
			if st == recording.StateIdle && trigger != "" {
				c.s.countRecordingStop(trigger)
			}
		},
	}, func(res recording.Result) {
		c.onRecording(res, lang)
	})
	c.rec = rec
	c.recRate = rate
	c.mu.Unlock()

	if err := rec.Start(); err != nil {
		c.fail("", protocol.ReasonRecording, err.Error())
	}
}

func (c *wsConn) writeAudio(m protocol.AudioChunk) {
	c.mu.Lock()
	rec, rate := c.rec, c.recRate
	c.mu.Unlock()
	if rec == nil {
		c.fail("", protocol.ReasonRecording, recording.ErrNotCapturing.Error())
		return
	}
	if m.SampleRate != rate {
		c.fail("", protocol.ReasonRecording, "sample_rate does not match the recording")
		return
	}
	pcm, err := m.PCM()
	if err != nil {
		c.fail("", protocol.ReasonRecording, err.Error())
		return
	}
	voiced := recording.IsVoiced(pcm, recording.DefaultVoiceThreshold)
	if m.Voiced != nil {
		voiced = *m.Voiced
	}
	if err := rec.Write(pcm, voiced); err != nil {
		// Chunks still in flight after an automatic stop land here.
		c.log.Debug("audio chunk dropped", "seq", m.Seq, "error", err)
	}
}

// onRecording submits a finalized capture as a voice question.
func (c *wsConn) onRecording(res recording.Result, lang string) {
	if res.Err != nil {
		if !errors.Is(res.Err, recording.ErrCancelled) {
			c.fail("", protocol.ReasonRecording, res.Err.Error())
		}
		return
	}
	c.log.Info("recording finalized",
		"trigger", string(res.Trigger),
		"duration_ms", res.Payload.Duration.Milliseconds(),
		"voiced", res.Payload.Voiced,
	)
	c.submit(tutor.Request{
		UserID:   c.key.UserID,
		VideoID:  c.key.VideoID,
		Language: lang,
		Input:    tutor.VoiceInput{Audio: res.Payload.WAV},
	})
}

// shutdown abandons any capture and waits for in-flight relays. The caller
// cancels the connection context first so their requests end as cancelled.
func (c *wsConn) shutdown() {
	c.mu.Lock()
	c.closed = true
	rec, cancelReq := c.rec, c.cancelReq
	c.mu.Unlock()
	if rec != nil {
		rec.Cancel()
	}
	if cancelReq != nil {
		cancelReq()
	}
	c.relays.Wait()
}

func (c *wsConn) send(msg any) {
	select {
	case c.out <- msg:
	case <-c.ctx.Done():
	}
}

func (c *wsConn) fail(requestID, reason, message string) {
	c.send(protocol.Error{
		Type:      protocol.TypeError,
		RequestID: requestID,
		Reason:    reason,
		Message:   message,
		Retryable: reason == protocol.ReasonBusy,
	})
}

func (s *Server) countSessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (s *Server) countWSMessage(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func (s *Server) countRecordingStop(trigger recording.Trigger) {
	if s.metrics != nil {
		s.metrics.RecordingStops.WithLabelValues(string(trigger)).Inc()
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.Ask:
		return m.Type, true
	case protocol.StartRecording:
		return m.Type, true
	case protocol.AudioChunk:
		return m.Type, true
	case protocol.StopRecording:
		return m.Type, true
	case protocol.Cancel:
		return m.Type, true
	case protocol.Start:
		return m.Type, true
	case protocol.Token:
		return m.Type, true
	case protocol.Done:
		return m.Type, true
	case protocol.Error:
		return m.Type, true
	case protocol.RecordingState:
		return m.Type, true
	default:
		return "", false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
