// Package openai implements every tutor capability against the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/provider"
)

var (
	_ provider.Answerer    = (*Provider)(nil)
	_ provider.Transcriber = (*Provider)(nil)
	_ provider.Describer   = (*Provider)(nil)
	_ provider.Synthesizer = (*Provider)(nil)
)

const (
	DefaultAnswerModel     = "gpt-4o-mini"
	DefaultTranscribeModel = "whisper-1"
	DefaultSpeechModel     = "tts-1"
	DefaultVoice           = "alloy"

	visionPrompt = "Describe this image for a math tutor. Transcribe any equations, numbers and labels exactly, then state what the student seems to be asking."
)

type Provider struct {
	client oai.Client
	cfg    Config
}

type Config struct {
	APIKey          string
	BaseURL         string
	AnswerModel     string
	VisionModel     string
	TranscribeModel string
	SpeechModel     string
	Voice           string
	Temperature     float64
	MaxTokens       int
}

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	if cfg.AnswerModel == "" {
		cfg.AnswerModel = DefaultAnswerModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.AnswerModel
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = DefaultTranscribeModel
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = DefaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	// Retries are owned by the caller's recovery policy.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{client: oai.NewClient(opts...), cfg: cfg}, nil
}

func (p *Provider) StreamAnswer(ctx context.Context, req provider.AnswerRequest, onDelta provider.DeltaHandler) (string, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.answerParams(req))
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return b.String(), err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), wrapError(provider.CapabilityAnswer, err)
	}
	return b.String(), nil
}

func (p *Provider) answerParams(req provider.AnswerRequest) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.History {
		if msg, ok := convertMessage(m); ok {
			messages = append(messages, msg)
		}
	}
	messages = append(messages, oai.UserMessage(req.Question))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.cfg.AnswerModel),
		Messages: messages,
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(p.cfg.Temperature)
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.cfg.MaxTokens))
	}
	return params
}

func convertMessage(m provider.Message) (oai.ChatCompletionMessageParamUnion, bool) {
	switch m.Role {
	case "user":
		return oai.UserMessage(m.Content), true
	case "assistant":
		return oai.AssistantMessage(m.Content), true
	case "system":
		return oai.SystemMessage(m.Content), true
	default:
		return oai.ChatCompletionMessageParamUnion{}, false
	}
}

func (p *Provider) Transcribe(ctx context.Context, in provider.AudioInput) (string, error) {
	name := in.Filename
	if name == "" {
		name = "recording.wav"
	}
	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.cfg.TranscribeModel),
		File:  oai.File(bytes.NewReader(in.Data), name, "audio/wav"),
	}
	if in.Language != "" {
		params.Language = param.NewOpt(in.Language)
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", wrapError(provider.CapabilityTranscribe, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (p *Provider) DescribeImage(ctx context.Context, in provider.ImageInput) (string, error) {
	mime := in.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	prompt := visionPrompt
	if in.VideoContext != "" {
		prompt += " The student is watching: " + in.VideoContext + "."
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(in.Data)

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.cfg.VisionModel),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.TextContentPart(prompt),
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.cfg.MaxTokens))
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapError(provider.CapabilityVision, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (p *Provider) Synthesize(ctx context.Context, text, _ string) (provider.Speech, error) {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.cfg.SpeechModel),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(p.cfg.Voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return provider.Speech{}, wrapError(provider.CapabilitySynthesize, err)
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Speech{}, wrapError(provider.CapabilitySynthesize, fmt.Errorf("read speech body: %w", err))
	}
	return provider.Speech{Audio: audio, Format: "mp3"}, nil
}

func wrapError(c provider.Capability, err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &provider.Error{Capability: c, Status: apiErr.StatusCode, Err: err}
	}
	return &provider.Error{Capability: c, Err: err}
}
