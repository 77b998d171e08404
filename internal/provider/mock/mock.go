// Package mock provides deterministic offline providers for local runs and
// tests.
package mock

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/provider"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/recording"
)

var (
	_ provider.Answerer    = (*Provider)(nil)
	_ provider.Transcriber = (*Provider)(nil)
	_ provider.Describer   = (*Provider)(nil)
	_ provider.Synthesizer = (*Provider)(nil)
)

const wavHeaderLen = 44

// Provider answers simple arithmetic directly and echoes anything else as a
// short explanation, streaming word by word.
type Provider struct {
	// Delay is slept between streamed fragments.
	Delay time.Duration
}

func New() *Provider { return &Provider{} }

var arithmeticRe = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([+\-*/x×])\s*(-?\d+(?:\.\d+)?)`)

func (p *Provider) StreamAnswer(ctx context.Context, req provider.AnswerRequest, onDelta provider.DeltaHandler) (string, error) {
	text := buildReply(req)
	var b strings.Builder
	for _, frag := range fragments(text) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if p.Delay > 0 {
			t := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		}
		if onDelta != nil {
			if err := onDelta(frag); err != nil {
				return "", err
			}
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}

func buildReply(req provider.AnswerRequest) string {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return "Could you ask your question again?"
	}
	if m := arithmeticRe.FindStringSubmatch(q); m != nil {
		if v, ok := evaluate(m[1], m[2], m[3]); ok {
			return fmt.Sprintf("%s%s%s equals %s.", m[1], m[2], m[3], v)
		}
	}
	return fmt.Sprintf("Good question. Let's work through %q step by step, starting from the definition and then an example.", q)
}

func evaluate(a, op, b string) (string, bool) {
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return "", false
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return "", false
	}
	var r float64
	switch op {
	case "+":
		r = x + y
	case "-":
		r = x - y
	case "*", "x", "×":
		r = x * y
	case "/":
		if y == 0 {
			return "", false
		}
		r = x / y
	default:
		return "", false
	}
	return strconv.FormatFloat(r, 'f', -1, 64), true
}

// fragments splits text into word-sized pieces whose concatenation is text.
func fragments(text string) []string {
	var out []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' {
			out = append(out, text[start:i])
			start = i
		}
	}
	return append(out, text[start:])
}

// Transcribe returns an empty transcript for silent audio.
func (p *Provider) Transcribe(ctx context.Context, in provider.AudioInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pcm := in.Data
	if len(pcm) >= wavHeaderLen && string(pcm[:4]) == "RIFF" {
		pcm = pcm[wavHeaderLen:]
	}
	if !recording.IsVoiced(pcm, recording.DefaultVoiceThreshold) {
		return "", nil
	}
	return "What is 2+2?", nil
}

func (p *Provider) DescribeImage(ctx context.Context, in provider.ImageInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(in.Data) == 0 {
		return "", nil
	}
	desc := fmt.Sprintf("An uploaded %s image of %d bytes showing a worked math problem", mimeOrDefault(in.MIMEType), len(in.Data))
	if in.VideoContext != "" {
		desc += " related to " + in.VideoContext
	}
	return desc + ".", nil
}

func mimeOrDefault(m string) string {
	if m == "" {
		return "image/png"
	}
	return m
}

// Synthesize returns silence sized to the text at 16kHz.
func (p *Provider) Synthesize(ctx context.Context, text, _ string) (provider.Speech, error) {
	if err := ctx.Err(); err != nil {
		return provider.Speech{}, err
	}
	samples := len(text) * 160
	wav, err := recording.EncodeWAV(make([]byte, samples*2), recording.DefaultSampleRate)
	if err != nil {
		return provider.Speech{}, err
	}
	return provider.Speech{Audio: wav, Format: "wav"}, nil
}
