package provider

import (
	"context"
	"errors"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/reliability"
)

// Gateway fronts the configured providers with one circuit breaker per
// capability. An open breaker fails fast with a transient error.
type Gateway struct {
	providers Providers
	breakers  map[Capability]*reliability.Breaker
}

func NewGateway(p Providers, breaker reliability.BreakerConfig) *Gateway {
	g := &Gateway{
		providers: p,
		breakers:  make(map[Capability]*reliability.Breaker, len(Capabilities)),
	}
	for _, c := range Capabilities {
		cfg := breaker
		cfg.Name = string(c)
		g.breakers[c] = reliability.NewBreaker(cfg)
	}
	return g
}

func (g *Gateway) StreamAnswer(ctx context.Context, req AnswerRequest, onDelta DeltaHandler) (string, error) {
	if g.providers.Answerer == nil {
		return "", &Error{Capability: CapabilityAnswer, Err: ErrNotConfigured}
	}
	var text string
	err := g.guard(CapabilityAnswer, func() error {
		var err error
		text, err = g.providers.Answerer.StreamAnswer(ctx, req, onDelta)
		return err
	})
	return text, err
}

func (g *Gateway) Transcribe(ctx context.Context, in AudioInput) (string, error) {
	if g.providers.Transcriber == nil {
		return "", &Error{Capability: CapabilityTranscribe, Err: ErrNotConfigured}
	}
	var text string
	err := g.guard(CapabilityTranscribe, func() error {
		var err error
		text, err = g.providers.Transcriber.Transcribe(ctx, in)
		return err
	})
	return text, err
}

func (g *Gateway) DescribeImage(ctx context.Context, in ImageInput) (string, error) {
	if g.providers.Describer == nil {
		return "", &Error{Capability: CapabilityVision, Err: ErrNotConfigured}
	}
	var text string
	err := g.guard(CapabilityVision, func() error {
		var err error
		text, err = g.providers.Describer.DescribeImage(ctx, in)
		return err
	})
	return text, err
}

func (g *Gateway) Synthesize(ctx context.Context, text, language string) (Speech, error) {
	if g.providers.Synthesizer == nil {
		return Speech{}, &Error{Capability: CapabilitySynthesize, Err: ErrNotConfigured}
	}
	var out Speech
	err := g.guard(CapabilitySynthesize, func() error {
		var err error
		out, err = g.providers.Synthesizer.Synthesize(ctx, text, language)
		return err
	})
	return out, err
}

// Health reports breaker state per capability, in Capabilities order.
// Capabilities without a provider are reported unhealthy.
func (g *Gateway) Health() []reliability.BreakerStatus {
	out := make([]reliability.BreakerStatus, 0, len(Capabilities))
	for _, c := range Capabilities {
		st := g.breakers[c].Status()
		if !g.configured(c) {
			st.State = "not_configured"
			st.Healthy = false
		}
		out = append(out, st)
	}
	return out
}

func (g *Gateway) configured(c Capability) bool {
	switch c {
	case CapabilityAnswer:
		return g.providers.Answerer != nil
	case CapabilityTranscribe:
		return g.providers.Transcriber != nil
	case CapabilityVision:
		return g.providers.Describer != nil
	case CapabilitySynthesize:
		return g.providers.Synthesizer != nil
	default:
		return false
	}
}

func (g *Gateway) guard(c Capability, call func() error) error {
	b := g.breakers[c]
	if err := b.Allow(); err != nil {
		return &Error{Capability: c, Err: err}
	}
	err := call()
	b.Record(healthSignal(err))
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Capability: c, Err: err}
}

// healthSignal drops failures that say nothing about the provider itself.
func healthSignal(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	var sc reliability.StatusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatus() {
		case 400, 404, 413, 415, 422:
			return nil
		}
	}
	return err
}
