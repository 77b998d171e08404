package tutor

import (
	"errors"
	"fmt"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/provider"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/session"
)

var (
	// ErrBusy rejects a submission while the session has a request in flight.
	ErrBusy           = fmt.Errorf("tutor: %w", session.ErrBusy)
	ErrInvalidRequest = errors.New("tutor: invalid request")
)

// Modality is the kind of user input.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
	ModalityImage Modality = "image"
)

// Input is one of TextInput, VoiceInput or ImageInput.
type Input interface {
	Modality() Modality
}

type TextInput struct {
	Text string
}

// VoiceInput carries a finalized recording as a WAV file.
type VoiceInput struct {
	Audio []byte
}

// ImageInput is an image with an optional accompanying question.
type ImageInput struct {
	Data     []byte
	MIMEType string
	Question string
}

func (TextInput) Modality() Modality  { return ModalityText }
func (VoiceInput) Modality() Modality { return ModalityVoice }
func (ImageInput) Modality() Modality { return ModalityImage }

// Request is one user action on a session.
type Request struct {
	UserID  string
	VideoID string
	// Language is a supported code, "auto" to detect it from the text, or
	// empty to use the session language.
	Language string
	// Audio overrides the session audio setting for this request when set.
	Audio     *bool
	Input     Input
	RequestID string
}

// Reason classifies a failed request for the caller.
type Reason string

const (
	ReasonNormalization     Reason = "normalization_failure"
	ReasonProviderTransient Reason = "provider_transient"
	ReasonProviderPermanent Reason = "provider_permanent"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonCancelled         Reason = "cancelled"
)

type EventType string

const (
	EventStart  EventType = "start"
	EventChunk  EventType = "chunk"
	EventDone   EventType = "done"
	EventFailed EventType = "failed"
)

// Event is one item of a request stream. A stream is a Start event, zero or
// more Chunk events and exactly one terminal Done or Failed event.
type Event struct {
	Type      EventType
	RequestID string

	// Chunk and Done.
	Text string

	// Done.
	Question   string
	Language   string
	Cached     bool
	Audio      *provider.Speech
	AudioError string

	// Failed.
	Reason    Reason
	Message   string
	Retryable bool
}

// Terminal reports whether e ends its stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventFailed
}

// normalizationError is input that could not be turned into a question.
type normalizationError struct {
	modality Modality
	message  string
}

func (e *normalizationError) Error() string {
	return fmt.Sprintf("normalize %s input: %s", e.modality, e.message)
}
