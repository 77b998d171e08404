package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderModeOpenAI = "openai"
	ProviderModeMock   = "mock"
)

// ErrMissingCredential is returned by Load when the provider credential is absent.
var ErrMissingCredential = errors.New("OPENAI_API_KEY is required")

// Config contains all runtime settings for the tutoring service.
type Config struct {
	BindAddr                 string
	Debug                    bool
	LogFormat                string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	ProviderMode       string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	AnswerModel        string
	VisionModel        string
	TranscribeModel    string
	SpeechModel        string
	SpeechVoice        string
	Temperature        float64
	MaxTokens          int
	ProviderTimeout    time.Duration
	RetryMaxAttempts   int
	HistoryTurns       int
	BreakerMaxFailures int
	BreakerReset       time.Duration

	CacheTTL              time.Duration
	CacheMaxEntries       int
	CacheVisionTTL        time.Duration
	CacheSpeechTTL        time.Duration
	CacheSpeechMaxEntries int
	RedisURL              string

	DatabaseURL    string
	HistoryLogPath string
	HistorySeed    bool

	VideoCatalogPath string

	RecordingSilenceTimeout time.Duration
	RecordingMaxDuration    time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		LogFormat:        strings.ToLower(envOrDefault("APP_LOG_FORMAT", "text")),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "tutor"),
		ProviderMode:     strings.ToLower(envOrDefault("TUTOR_PROVIDER_MODE", ProviderModeOpenAI)),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:    stringsTrimSpace("OPENAI_BASE_URL"),
		AnswerModel:      envOrDefault("TUTOR_ANSWER_MODEL", "gpt-4o-mini"),
		VisionModel:      envOrDefault("TUTOR_VISION_MODEL", "gpt-4o-mini"),
		TranscribeModel:  envOrDefault("TUTOR_TRANSCRIBE_MODEL", "whisper-1"),
		SpeechModel:      envOrDefault("TUTOR_SPEECH_MODEL", "tts-1"),
		SpeechVoice:      envOrDefault("TUTOR_SPEECH_VOICE", "alloy"),
		RedisURL:         stringsTrimSpace("REDIS_URL"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		HistoryLogPath:   stringsTrimSpace("HISTORY_LOG_PATH"),
		VideoCatalogPath: stringsTrimSpace("VIDEO_CATALOG_PATH"),

		Temperature:        0.3,
		MaxTokens:          700,
		ProviderTimeout:    30 * time.Second,
		RetryMaxAttempts:   3,
		HistoryTurns:       6,
		BreakerMaxFailures: 5,
		BreakerReset:       30 * time.Second,

		CacheTTL:              24 * time.Hour,
		CacheMaxEntries:       1000,
		CacheVisionTTL:        2 * time.Hour,
		CacheSpeechTTL:        time.Hour,
		CacheSpeechMaxEntries: 200,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: time.Hour,

		RecordingSilenceTimeout: 2 * time.Second,
		RecordingMaxDuration:    20 * time.Second,
	}
	// PORT is the conventional platform override and wins over APP_BIND_ADDR.
	if port := stringsTrimSpace("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return Config{}, fmt.Errorf("PORT parse error: %w", err)
		}
		cfg.BindAddr = ":" + port
	}

	var err error
	if cfg.Debug, err = boolFromEnv("APP_DEBUG", cfg.Debug); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.HistorySeed, err = boolFromEnv("HISTORY_SEED", cfg.HistorySeed); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ProviderTimeout, err = durationFromEnv("TUTOR_PROVIDER_TIMEOUT", cfg.ProviderTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BreakerReset, err = durationFromEnv("TUTOR_BREAKER_RESET", cfg.BreakerReset); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = durationFromEnv("CACHE_TTL", cfg.CacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.CacheVisionTTL, err = durationFromEnv("CACHE_VISION_TTL", cfg.CacheVisionTTL); err != nil {
		return Config{}, err
	}
	if cfg.CacheSpeechTTL, err = durationFromEnv("CACHE_SPEECH_TTL", cfg.CacheSpeechTTL); err != nil {
		return Config{}, err
	}
	if cfg.RecordingSilenceTimeout, err = durationFromEnv("RECORDING_SILENCE_TIMEOUT", cfg.RecordingSilenceTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RecordingMaxDuration, err = durationFromEnv("RECORDING_MAX_DURATION", cfg.RecordingMaxDuration); err != nil {
		return Config{}, err
	}
	if cfg.Temperature, err = floatFromEnv("TUTOR_TEMPERATURE", cfg.Temperature); err != nil {
		return Config{}, err
	}
	if cfg.MaxTokens, err = intFromEnv("TUTOR_MAX_TOKENS", cfg.MaxTokens); err != nil {
		return Config{}, err
	}
	if cfg.RetryMaxAttempts, err = intFromEnv("TUTOR_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.HistoryTurns, err = intFromEnv("TUTOR_HISTORY_TURNS", cfg.HistoryTurns); err != nil {
		return Config{}, err
	}
	if cfg.BreakerMaxFailures, err = intFromEnv("TUTOR_BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return Config{}, err
	}
	if cfg.CacheMaxEntries, err = intFromEnv("CACHE_MAX_ENTRIES", cfg.CacheMaxEntries); err != nil {
		return Config{}, err
	}
	if cfg.CacheSpeechMaxEntries, err = intFromEnv("CACHE_SPEECH_MAX_ENTRIES", cfg.CacheSpeechMaxEntries); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.ProviderMode {
	case ProviderModeOpenAI:
		if c.OpenAIAPIKey == "" {
			return ErrMissingCredential
		}
	case ProviderModeMock:
	default:
		return fmt.Errorf("TUTOR_PROVIDER_MODE must be %q or %q, got %q", ProviderModeOpenAI, ProviderModeMock, c.ProviderMode)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("TUTOR_TEMPERATURE must be within [0, 2]")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("TUTOR_MAX_TOKENS must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("TUTOR_PROVIDER_TIMEOUT must be positive")
	}
	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 10 {
		return fmt.Errorf("TUTOR_RETRY_MAX_ATTEMPTS must be within [1, 10]")
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("TUTOR_HISTORY_TURNS must be >= 0")
	}
	if c.BreakerMaxFailures <= 0 {
		return fmt.Errorf("TUTOR_BREAKER_MAX_FAILURES must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be positive")
	}
	if c.CacheVisionTTL <= 0 || c.CacheSpeechTTL <= 0 {
		return fmt.Errorf("CACHE_VISION_TTL and CACHE_SPEECH_TTL must be positive")
	}
	if c.CacheSpeechMaxEntries <= 0 {
		return fmt.Errorf("CACHE_SPEECH_MAX_ENTRIES must be positive")
	}
	if c.RecordingSilenceTimeout <= 0 || c.RecordingMaxDuration <= 0 {
		return fmt.Errorf("recording timeouts must be positive")
	}
	if c.RecordingSilenceTimeout > c.RecordingMaxDuration {
		return fmt.Errorf("RECORDING_SILENCE_TIMEOUT must not exceed RECORDING_MAX_DURATION")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
