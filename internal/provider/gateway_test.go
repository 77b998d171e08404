package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/reliability"
)

type stubAnswerer struct {
	calls int
	err   error
}

func (s *stubAnswerer) StreamAnswer(_ context.Context, req AnswerRequest, onDelta DeltaHandler) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if err := onDelta(req.Question); err != nil {
		return "", err
	}
	return req.Question, nil
}

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(context.Context, AudioInput) (string, error) { return s.text, nil }

func TestGatewayPassesThrough(t *testing.T) {
	ans := &stubAnswerer{}
	g := NewGateway(Providers{Answerer: ans, Transcriber: stubTranscriber{text: "hello"}}, reliability.BreakerConfig{})

	var deltas []string
	text, err := g.StreamAnswer(context.Background(), AnswerRequest{Question: "q"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil || text != "q" || len(deltas) != 1 {
		t.Fatalf("StreamAnswer() = %q, %v (deltas %v)", text, err, deltas)
	}
	got, err := g.Transcribe(context.Background(), AudioInput{})
	if err != nil || got != "hello" {
		t.Fatalf("Transcribe() = %q, %v", got, err)
	}
}

func TestGatewayMissingProviderIsPermanent(t *testing.T) {
	g := NewGateway(Providers{}, reliability.BreakerConfig{})
	_, err := g.DescribeImage(context.Background(), ImageInput{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("DescribeImage() error = %v, want ErrNotConfigured", err)
	}
	if c := reliability.Classify(err); c != reliability.ClassPermanent {
		t.Fatalf("Classify() = %v, want permanent", c)
	}
	if c, ok := CapabilityOf(err); !ok || c != CapabilityVision {
		t.Fatalf("CapabilityOf() = %q, %v", c, ok)
	}
}

func TestGatewayBreakerOpensAndFailsFast(t *testing.T) {
	ans := &stubAnswerer{err: errors.New("connection refused")}
	g := NewGateway(Providers{Answerer: ans}, reliability.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	noop := func(string) error { return nil }

	for i := 0; i < 2; i++ {
		if _, err := g.StreamAnswer(context.Background(), AnswerRequest{}, noop); err == nil {
			t.Fatalf("call %d succeeded, want failure", i)
		}
	}
	_, err := g.StreamAnswer(context.Background(), AnswerRequest{}, noop)
	if !errors.Is(err, reliability.ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if ans.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", ans.calls)
	}
	if c := reliability.Classify(err); c != reliability.ClassTransient {
		t.Fatalf("Classify() = %v, want transient", c)
	}

	health := g.Health()
	if len(health) != len(Capabilities) || health[0].Name != "answer" || health[0].Healthy {
		t.Fatalf("Health() = %+v, want unhealthy answer breaker first", health)
	}
}

func TestGatewayIgnoresCancellationForHealth(t *testing.T) {
	ans := &stubAnswerer{err: context.Canceled}
	g := NewGateway(Providers{Answerer: ans}, reliability.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	for i := 0; i < 3; i++ {
		_, err := g.StreamAnswer(context.Background(), AnswerRequest{}, func(string) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	}
	if ans.calls != 3 {
		t.Fatalf("provider calls = %d, want 3 (breaker must stay closed)", ans.calls)
	}
}

func TestGatewayHealthMarksUnconfigured(t *testing.T) {
	g := NewGateway(Providers{Answerer: &stubAnswerer{}}, reliability.BreakerConfig{})
	for _, st := range g.Health() {
		switch st.Name {
		case "answer":
			if !st.Healthy {
				t.Fatalf("answer health = %+v, want healthy", st)
			}
		default:
			if st.Healthy || st.State != "not_configured" {
				t.Fatalf("%s health = %+v, want not_configured", st.Name, st)
			}
		}
	}
}

func TestErrorExposesStatus(t *testing.T) {
	err := &Error{Capability: CapabilityAnswer, Status: 429, Err: errors.New("slow down")}
	if c := reliability.Classify(err); c != reliability.ClassRateLimited {
		t.Fatalf("Classify() = %v, want rate limited", c)
	}
	if err.Error() != "answer provider: status 429: slow down" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
