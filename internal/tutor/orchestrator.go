// Package tutor turns text, voice and image questions into streamed answers
// for one (user, video) session at a time.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/cache"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/history"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/language"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/observability"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/provider"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/reliability"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/session"
)

// LanguageAuto asks for the language to be detected from the question.
const LanguageAuto = "auto"

const (
	defaultProviderTimeout = 30 * time.Second
	defaultHistoryTurns    = 6
	promptImageContexts    = 3
	maxRejoins             = 2
	streamBuffer           = 32
)

// Gateway is the provider surface the orchestrator dispatches to.
type Gateway interface {
	provider.Answerer
	provider.Transcriber
	provider.Describer
	provider.Synthesizer
}

// ContextSource renders what the student is watching for a video id.
type ContextSource interface {
	ContextRef(videoID string) string
}

type Config struct {
	Policy reliability.Policy
	// ProviderTimeout bounds every single provider attempt.
	ProviderTimeout time.Duration
	// HistoryTurns is the number of prior exchanges sent with a question.
	HistoryTurns int
	// Defaults seed sessions created by a submission.
	Defaults session.Defaults
	Metrics  *observability.Metrics
	History  history.Sink
	// Wait sleeps between retry attempts. Nil means reliability.Wait.
	Wait func(ctx context.Context, d time.Duration) error
}

// Orchestrator is stateless apart from its collaborators: all per-session
// state lives in the session store and is reached through a busy token.
type Orchestrator struct {
	sessions *session.Store
	answers  *cache.Service
	gateway  Gateway
	videos   ContextSource
	cfg      Config
}

func New(sessions *session.Store, answers *cache.Service, gateway Gateway, videos ContextSource, cfg Config) *Orchestrator {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	if cfg.Policy.Validate() != nil {
		cfg.Policy = reliability.DefaultPolicy()
	}
	if cfg.Wait == nil {
		cfg.Wait = reliability.Wait
	}
	return &Orchestrator{
		sessions: sessions,
		answers:  answers,
		gateway:  gateway,
		videos:   videos,
		cfg:      cfg,
	}
}

// Submit accepts req and returns its event stream. The stream is closed
// after its terminal event. A session that already has a request in flight
// is rejected with ErrBusy before anything is changed.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (<-chan Event, error) {
	switch req.Input.(type) {
	case TextInput, VoiceInput, ImageInput:
	default:
		return nil, fmt.Errorf("%w: unsupported input %T", ErrInvalidRequest, req.Input)
	}
	key := session.Key{UserID: strings.TrimSpace(req.UserID), VideoID: strings.TrimSpace(req.VideoID)}
	if !key.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, session.ErrInvalidKey)
	}

	defaults := o.cfg.Defaults
	if code := strings.ToLower(strings.TrimSpace(req.Language)); language.Supported(code) {
		defaults.Language = code
	}
	tok, err := o.sessions.Acquire(ctx, key, defaults)
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			o.countAsk(req.Input.Modality(), "busy")
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	out := make(chan Event, streamBuffer)
	go o.run(ctx, tok, req, out)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, tok *session.Token, req Request, out chan Event) {
	em := newEmitter(ctx, out)
	defer em.close()
	defer tok.Release()

	ctx, span := observability.StartSpan(ctx, "tutor.submit")
	defer span.End()

	started := time.Now()
	modality := req.Input.Modality()
	log := observability.Logger(ctx).With(
		"session", tok.Key().String(),
		"modality", string(modality),
		"request_id", req.RequestID,
	)

	_ = em.send(Event{Type: EventStart, RequestID: req.RequestID})

	done, err := o.handle(ctx, tok, req, em, started, log)
	tok.Release()
	if err != nil {
		ev := failureEvent(err)
		ev.RequestID = req.RequestID
		o.countAsk(modality, string(ev.Reason))
		if ev.Reason == ReasonCancelled {
			log.Info("tutor request cancelled")
		} else {
			log.Warn("tutor request failed", "reason", ev.Reason, "error", err)
		}
		em.finish(ev)
		return
	}

	outcome := "answered"
	if done.Cached {
		outcome = "cached"
	}
	o.countAsk(modality, outcome)
	log.Info("tutor request answered",
		"cached", done.Cached,
		"audio", done.Audio != nil,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	em.finish(done)
}

func (o *Orchestrator) handle(ctx context.Context, tok *session.Token, req Request, em *emitter, started time.Time, log *slog.Logger) (Event, error) {
	key := tok.Key()
	modality := req.Input.Modality()

	question, lang, err := o.normalize(ctx, tok, req)
	if err != nil {
		return Event{}, err
	}
	sess := tok.Session()

	fingerprint := cache.Fingerprint(key.UserID, key.VideoID, lang, string(modality), cache.Normalize(question))
	log = log.With("fingerprint", fingerprint[:16], "language", lang)
	log.Debug("tutor request normalized", "question_chars", len(question))

	answer, src, err := o.answer(ctx, fingerprint, req.RequestID, o.answerRequest(sess, question, lang), em, started)
	if err != nil {
		return Event{}, err
	}

	now := time.Now().UTC()
	if err := tok.Commit(
		session.Turn{Role: session.RoleUser, Modality: string(modality), Text: question, At: now},
		session.Turn{Role: session.RoleAssistant, Modality: string(modality), Text: answer, At: now},
	); err != nil {
		log.Warn("session commit failed", "error", err)
	}
	o.record(ctx, sess, modality, question, answer, log)

	done := Event{
		Type:      EventDone,
		RequestID: req.RequestID,
		Text:      answer,
		Question:  question,
		Language:  lang,
		Cached:    src == cache.SourceCache,
	}
	audio := sess.AudioEnabled
	if req.Audio != nil {
		audio = *req.Audio
	}
	if audio {
		o.synthesize(ctx, &done, log)
	}
	return done, nil
}

// normalize turns the request input into the question text and settles the
// answer language.
func (o *Orchestrator) normalize(ctx context.Context, tok *session.Token, req Request) (string, string, error) {
	ctx, span := observability.StartSpan(ctx, "tutor.normalize")
	defer span.End()
	start := time.Now()
	defer func() { o.observeStage(observability.StageNormalize, time.Since(start)) }()

	sess := tok.Session()
	lang, detect := resolveLanguage(req.Language, sess.Language)

	var question string
	switch in := req.Input.(type) {
	case TextInput:
		question = strings.TrimSpace(in.Text)
		if question == "" {
			return "", "", &normalizationError{modality: ModalityText, message: "question is empty"}
		}
		if detect {
			lang = language.Detect(question)
		}

	case VoiceInput:
		if len(in.Audio) == 0 {
			return "", "", &normalizationError{modality: ModalityVoice, message: "recording is empty"}
		}
		var transcript string
		err := o.call(ctx, provider.CapabilityTranscribe, func(ctx context.Context) error {
			var err error
			transcript, err = o.gateway.Transcribe(ctx, provider.AudioInput{
				Data:     in.Audio,
				Filename: "recording.wav",
				Language: lang,
			})
			return err
		}, nil)
		if err != nil {
			return "", "", err
		}
		question = strings.TrimSpace(transcript)
		if question == "" {
			return "", "", &normalizationError{modality: ModalityVoice, message: "no speech was recognized"}
		}
		if detect {
			lang = language.Detect(question)
		}

	case ImageInput:
		if len(in.Data) == 0 {
			return "", "", &normalizationError{modality: ModalityImage, message: "image is empty"}
		}
		if detect {
			lang = language.Detect(in.Question)
		}
		key := cache.ImageFingerprint(sess.Key.VideoID, lang, in.Data)
		described, _, err := o.shared(ctx, cache.KeyspaceVision, key, func(ctx context.Context) (cache.Answer, error) {
			var description string
			err := o.call(ctx, provider.CapabilityVision, func(ctx context.Context) error {
				var err error
				description, err = o.gateway.DescribeImage(ctx, provider.ImageInput{
					Data:         in.Data,
					MIMEType:     in.MIMEType,
					VideoContext: o.contextRef(sess.Key.VideoID),
					Language:     lang,
				})
				return err
			}, nil)
			if err != nil {
				return cache.Answer{}, err
			}
			description = strings.TrimSpace(description)
			if description == "" {
				return cache.Answer{}, &normalizationError{modality: ModalityImage, message: "nothing could be read from the image"}
			}
			return cache.Answer{Text: description}, nil
		})
		if err != nil {
			return "", "", err
		}
		description := described.Text
		tok.AddImageContext(description)
		question = imageQuestion(in.Question, description)
	}
	return question, lang, nil
}

func resolveLanguage(requested, sessionLang string) (string, bool) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	switch {
	case requested == LanguageAuto:
		return "", true
	case requested != "":
		return language.Resolve(requested), false
	case sessionLang != "":
		return language.Resolve(sessionLang), false
	default:
		return "", true
	}
}

func imageQuestion(question, description string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		q = "Explain what this image shows and how it relates to the lesson."
	}
	return q + "\n\nImage description: " + description
}

func (o *Orchestrator) contextRef(videoID string) string {
	if o.videos == nil {
		return ""
	}
	return o.videos.ContextRef(videoID)
}

func (o *Orchestrator) answerRequest(sess session.Session, question, lang string) provider.AnswerRequest {
	var b strings.Builder
	b.WriteString(o.contextRef(sess.Key.VideoID))
	if images := sess.RecentImageContexts(promptImageContexts); len(images) > 0 {
		b.WriteString("\n\nImages the student shared recently:")
		for _, desc := range images {
			b.WriteString("\n- ")
			b.WriteString(desc)
		}
	}

	turns := sess.History
	if limit := 2 * o.cfg.HistoryTurns; len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	msgs := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, provider.Message{Role: string(t.Role), Content: t.Text})
	}

	return provider.AnswerRequest{
		SystemPrompt: language.SystemPrompt(lang, b.String()),
		History:      msgs,
		Question:     question,
		Language:     lang,
	}
}

// answer serves the question from the cache or from one shared provider
// stream. Live fragments are relayed only by the caller that runs the
// stream; cache hits and shared results arrive as a single chunk.
func (o *Orchestrator) answer(ctx context.Context, fingerprint, requestID string, req provider.AnswerRequest, em *emitter, started time.Time) (string, cache.Source, error) {
	ctx, span := observability.StartSpan(ctx, "tutor.answer")
	defer span.End()
	start := time.Now()

	var first sync.Once
	relay := func(text string) error {
		first.Do(func() { o.observeFirstChunk(time.Since(started)) })
		return em.send(Event{Type: EventChunk, RequestID: requestID, Text: text})
	}

	a, src, err := o.shared(ctx, cache.KeyspaceAnswer, fingerprint, func(ctx context.Context) (cache.Answer, error) {
		text, err := o.streamWithRetry(ctx, req, relay)
		if err != nil {
			return cache.Answer{}, err
		}
		return cache.Answer{Text: text}, nil
	})
	if err != nil {
		return "", src, err
	}
	o.countLookup(src)
	if src != cache.SourceComputed {
		if err := relay(a.Text); err != nil {
			return "", src, err
		}
	}
	o.observeStage(observability.StageAnswerTotal, time.Since(start))
	return a.Text, src, nil
}

// shared runs compute through keyspace ks of the cache, rejoining when the
// flight it waited on was cancelled by the caller that started it.
func (o *Orchestrator) shared(ctx context.Context, ks cache.Keyspace, key string, compute func(context.Context) (cache.Answer, error)) (cache.Answer, cache.Source, error) {
	for rejoin := 0; ; rejoin++ {
		a, src, err := o.answers.GetOrComputeIn(ctx, ks, key, compute)
		if err != nil && src == cache.SourceShared && errors.Is(err, context.Canceled) && ctx.Err() == nil && rejoin < maxRejoins {
			continue
		}
		return a, src, err
	}
}

// streamWithRetry runs the answer stream, retrying per the policy only while
// nothing has been relayed to the caller.
func (o *Orchestrator) streamWithRetry(ctx context.Context, req provider.AnswerRequest, relay provider.DeltaHandler) (string, error) {
	var relayed atomic.Bool
	onDelta := func(delta string) error {
		if delta == "" {
			return nil
		}
		relayed.Store(true)
		return relay(delta)
	}

	var text string
	err := o.call(ctx, provider.CapabilityAnswer, func(ctx context.Context) error {
		var err error
		text, err = o.gateway.StreamAnswer(ctx, req, onDelta)
		if err == nil && strings.TrimSpace(text) == "" {
			err = fmt.Errorf("empty answer: %w", reliability.ErrTransient)
		}
		return err
	}, relayed.Load)
	if err != nil {
		return "", err
	}
	return text, nil
}

// call runs fn with a bounded attempt timeout and retries failures the
// policy allows. partial, when set, reports output that makes a retry unsafe.
func (o *Orchestrator) call(ctx context.Context, capability provider.Capability, fn func(context.Context) error, partial func() bool) error {
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		class := reliability.Classify(err)
		o.countProviderError(capability, class)
		if (partial != nil && partial()) || !o.cfg.Policy.ShouldRetry(err, attempt) {
			return err
		}
		delay := o.cfg.Policy.Backoff(err, attempt)
		o.countRetry(capability)
		observability.Logger(ctx).Debug("retrying provider call",
			"provider", string(capability),
			"attempt", attempt,
			"class", class.String(),
			"delay", delay,
			"error", err,
		)
		if werr := o.cfg.Wait(ctx, delay); werr != nil {
			return werr
		}
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, done *Event, log *slog.Logger) {
	text := SpeechText(done.Text)
	if text == "" {
		return
	}
	ctx, span := observability.StartSpan(ctx, "tutor.synthesize")
	defer span.End()
	start := time.Now()

	cached, _, err := o.shared(ctx, cache.KeyspaceSpeech, cache.SpeechFingerprint(done.Language, text), func(ctx context.Context) (cache.Answer, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
		defer cancel()
		speech, err := o.gateway.Synthesize(attemptCtx, text, done.Language)
		if err != nil {
			return cache.Answer{}, err
		}
		if len(speech.Audio) == 0 {
			return cache.Answer{}, fmt.Errorf("empty speech: %w", reliability.ErrTransient)
		}
		return cache.Answer{Text: text, Audio: speech.Audio, Format: speech.Format}, nil
	})
	o.observeStage(observability.StageSynthesize, time.Since(start))
	if err != nil {
		class := reliability.Classify(err)
		o.countProviderError(provider.CapabilitySynthesize, class)
		done.AudioError = "Audio could not be generated for this answer."
		if class == reliability.ClassRateLimited {
			done.AudioError = "Audio is unavailable right now because of high demand."
		}
		log.Warn("speech synthesis failed", "class", class.String(), "error", err)
		return
	}
	done.Audio = &provider.Speech{Audio: cached.Audio, Format: cached.Format}
}

// record appends the exchange to the durable history. Failures never reach
// the caller.
func (o *Orchestrator) record(ctx context.Context, sess session.Session, modality Modality, question, answer string, log *slog.Logger) {
	if o.cfg.History == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, rec := range []history.Record{
		{Role: string(session.RoleUser), Content: question},
		{Role: string(session.RoleAssistant), Content: answer},
	} {
		rec.UserID = sess.Key.UserID
		rec.VideoID = sess.Key.VideoID
		rec.SessionID = sess.ID
		rec.Modality = string(modality)
		if err := o.cfg.History.Append(ctx, rec); err != nil {
			log.Warn("history append failed", "role", rec.Role, "error", err)
		}
	}
}

// failureEvent converts an error into the terminal event shown to the
// caller. Provider error text is never included.
func failureEvent(err error) Event {
	ev := Event{Type: EventFailed}
	var nerr *normalizationError
	switch {
	case errors.As(err, &nerr):
		ev.Reason = ReasonNormalization
		ev.Message = normalizationMessage(nerr.modality)
		return ev
	case errors.Is(err, context.Canceled):
		ev.Reason = ReasonCancelled
		ev.Message = "The request was cancelled."
		return ev
	}

	switch reliability.Classify(err) {
	case reliability.ClassRateLimited:
		ev.Reason = ReasonRateLimited
		ev.Message = "The tutor is getting a lot of questions right now. Please try again in a minute."
		ev.Retryable = true
	case reliability.ClassPermanent:
		ev.Reason = ReasonProviderPermanent
		ev.Message = "The tutor is unavailable right now. Please contact support if this keeps happening."
	default:
		ev.Reason = ReasonProviderTransient
		ev.Message = "The tutor could not answer in time. Please try again."
		ev.Retryable = true
	}
	return ev
}

func normalizationMessage(m Modality) string {
	switch m {
	case ModalityVoice:
		return "I couldn't hear a question in that recording. Please try again."
	case ModalityImage:
		return "I couldn't read that image. Please try a clearer picture."
	default:
		return "Please type a question."
	}
}

func (o *Orchestrator) countAsk(m Modality, outcome string) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.AskRequests.WithLabelValues(string(m), outcome).Inc()
	o.cfg.Metrics.Stages.CountOutcome(outcome)
}

func (o *Orchestrator) countLookup(src cache.Source) {
	if o.cfg.Metrics == nil {
		return
	}
	result := "miss"
	switch src {
	case cache.SourceCache:
		result = "hit"
	case cache.SourceShared:
		result = "shared"
	}
	o.cfg.Metrics.CacheLookups.WithLabelValues(result).Inc()
}

func (o *Orchestrator) countProviderError(c provider.Capability, class reliability.Class) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.ProviderErrors.WithLabelValues(string(c), class.String()).Inc()
}

func (o *Orchestrator) countRetry(c provider.Capability) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.ProviderRetries.WithLabelValues(string(c)).Inc()
}

func (o *Orchestrator) observeFirstChunk(d time.Duration) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.ObserveFirstChunkLatency(d)
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.Stages.Observe(stage, d)
}
