// Package provider defines the external capabilities the tutor depends on:
// answering, transcription, image description and speech synthesis.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/reliability"
)

type Capability string

const (
	CapabilityAnswer     Capability = "answer"
	CapabilityTranscribe Capability = "transcribe"
	CapabilityVision     Capability = "vision"
	CapabilitySynthesize Capability = "synthesize"
)

var Capabilities = []Capability{CapabilityAnswer, CapabilityTranscribe, CapabilityVision, CapabilitySynthesize}

var ErrNotConfigured = fmt.Errorf("provider not configured: %w", reliability.ErrPermanent)

// Message is one prior conversation turn sent as context.
type Message struct {
	Role    string
	Content string
}

// AnswerRequest is a normalized question ready for the answering model.
type AnswerRequest struct {
	SystemPrompt string
	History      []Message
	Question     string
	Language     string
}

// DeltaHandler receives streamed answer fragments in production order.
// Returning an error aborts the stream.
type DeltaHandler func(delta string) error

type Answerer interface {
	// StreamAnswer relays fragments to onDelta and returns the full text.
	StreamAnswer(ctx context.Context, req AnswerRequest, onDelta DeltaHandler) (string, error)
}

type AudioInput struct {
	Data     []byte
	Filename string
	Language string
}

type Transcriber interface {
	Transcribe(ctx context.Context, in AudioInput) (string, error)
}

type ImageInput struct {
	Data         []byte
	MIMEType     string
	VideoContext string
	Language     string
}

type Describer interface {
	DescribeImage(ctx context.Context, in ImageInput) (string, error)
}

// Speech is synthesized audio.
type Speech struct {
	Audio  []byte
	Format string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (Speech, error)
}

// Providers bundles one implementation per capability. Nil members are
// reported as ErrNotConfigured.
type Providers struct {
	Answerer    Answerer
	Transcriber Transcriber
	Describer   Describer
	Synthesizer Synthesizer
}

// Error annotates a provider failure with its capability and upstream status.
type Error struct {
	Capability Capability
	Status     int
	Err        error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s provider: status %d: %v", e.Capability, e.Status, e.Err)
	}
	return fmt.Sprintf("%s provider: %v", e.Capability, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int { return e.Status }

// CapabilityOf reports which capability produced err, if known.
func CapabilityOf(err error) (Capability, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Capability, true
	}
	return "", false
}
