package app

import (
	"fmt"
	"strings"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/config"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/provider"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/provider/mock"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/provider/openai"
)

type providerSetup struct {
	providers provider.Providers
	mode      string
	detail    string
}

func resolveProviders(cfg config.Config) (providerSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.ProviderMode))
	if mode == "" {
		mode = config.ProviderModeOpenAI
	}

	switch mode {
	case config.ProviderModeOpenAI:
		p, err := openai.New(openai.Config{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			AnswerModel:     cfg.AnswerModel,
			VisionModel:     cfg.VisionModel,
			TranscribeModel: cfg.TranscribeModel,
			SpeechModel:     cfg.SpeechModel,
			Voice:           cfg.SpeechVoice,
			Temperature:     cfg.Temperature,
			MaxTokens:       cfg.MaxTokens,
		})
		if err != nil {
			return providerSetup{}, fmt.Errorf("openai provider init failed: %w", err)
		}
		return providerSetup{
			providers: provider.Providers{Answerer: p, Transcriber: p, Describer: p, Synthesizer: p},
			mode:      mode,
			detail:    fmt.Sprintf("openai (answer=%s vision=%s stt=%s tts=%s)", cfg.AnswerModel, cfg.VisionModel, cfg.TranscribeModel, cfg.SpeechModel),
		}, nil
	case config.ProviderModeMock:
		p := mock.New()
		return providerSetup{
			providers: provider.Providers{Answerer: p, Transcriber: p, Describer: p, Synthesizer: p},
			mode:      mode,
			detail:    "mock (offline deterministic answers)",
		}, nil
	default:
		return providerSetup{}, fmt.Errorf("invalid TUTOR_PROVIDER_MODE: %q (expected openai|mock)", cfg.ProviderMode)
	}
}
