package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/cache"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/catalog"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/config"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/history"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/httpapi"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/language"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/observability"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/provider"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/reliability"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/session"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/tutor"
)

const (
	historyQueueSize    = 256
	historyWriteTimeout = 5 * time.Second
)

type ProviderInfo struct {
	Mode   string
	Detail string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Store
	Tutor    *tutor.Orchestrator
	Answers  *cache.Service
	Metrics  *observability.Metrics
	Provider ProviderInfo
	History  string

	// Cleanup should be called on shutdown to flush history and close external clients.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	setup, err := resolveProviders(cfg)
	if err != nil {
		return nil, err
	}
	gateway := provider.NewGateway(setup.providers, reliability.BreakerConfig{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerReset,
		HalfOpenMax:  1,
	})

	// External stores are checked concurrently; any failure aborts startup.
	var (
		sink        history.Sink
		redisClient *redis.Client
		videos      *catalog.Catalog
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := history.Open(gctx, history.Config{DatabaseURL: cfg.DatabaseURL, LogPath: cfg.HistoryLogPath})
		if err != nil {
			return fmt.Errorf("history sink init failed: %w", err)
		}
		sink = s
		return nil
	})
	if strings.TrimSpace(cfg.RedisURL) != "" {
		g.Go(func() error {
			c, err := cache.DialRedis(gctx, cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis cache init failed: %w", err)
			}
			redisClient = c
			return nil
		})
	}
	g.Go(func() error {
		if strings.TrimSpace(cfg.VideoCatalogPath) == "" {
			videos = catalog.Default()
			return nil
		}
		c, err := catalog.Load(cfg.VideoCatalogPath)
		if err != nil {
			return fmt.Errorf("video catalog load failed: %w", err)
		}
		videos = c
		return nil
	})
	if err := g.Wait(); err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	var backend, vision, speech cache.Backend
	if redisClient != nil {
		backend = cache.NewRedisBackend(redisClient, cfg.CacheTTL)
		vision = cache.NewRedisBackend(redisClient, cfg.CacheVisionTTL, cache.WithKeyPrefix("tutor:vision:"))
		speech = cache.NewRedisBackend(redisClient, cfg.CacheSpeechTTL, cache.WithKeyPrefix("tutor:speech:"))
	} else {
		backend = cache.NewMemoryBackend(cfg.CacheMaxEntries, cfg.CacheTTL)
		vision = cache.NewMemoryBackend(cfg.CacheMaxEntries, cfg.CacheVisionTTL)
		speech = cache.NewMemoryBackend(cfg.CacheSpeechMaxEntries, cfg.CacheSpeechTTL)
	}
	answers := cache.New(backend,
		cache.WithKeyspace(cache.KeyspaceVision, vision),
		cache.WithKeyspace(cache.KeyspaceSpeech, speech),
	)

	turns := history.NewAsyncSink(sink, historyQueueSize, historyWriteTimeout)

	sessions := session.NewStore(cfg.SessionInactivityTimeout)
	sessions.SetEvictHook(func(_ session.Session, reason string) {
		metrics.SessionEvents.WithLabelValues(reason).Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})
	if cfg.HistorySeed {
		sessions.SetSeeder(seedFromHistory(turns), 2*cfg.HistoryTurns)
	}

	defaults := session.Defaults{Language: language.Default, AudioEnabled: true}
	policy := reliability.DefaultPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	orch := tutor.New(sessions, answers, gateway, videos, tutor.Config{
		Policy:          policy,
		ProviderTimeout: cfg.ProviderTimeout,
		HistoryTurns:    cfg.HistoryTurns,
		Defaults:        defaults,
		Metrics:         metrics,
		History:         turns,
	})

	historyKind := history.Kind(turns)
	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:    sessions,
		Defaults:    defaults,
		Tutor:       orch,
		Answers:     answers,
		Videos:      videos,
		Providers:   gateway,
		Metrics:     metrics,
		HistoryKind: historyKind,
	})

	cleanup := func() error {
		var errs []string
		if err := turns.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Tutor:    orch,
		Answers:  answers,
		Metrics:  metrics,
		Provider: ProviderInfo{Mode: setup.mode, Detail: setup.detail},
		History:  historyKind,
		Cleanup:  cleanup,
	}, nil
}

// seedFromHistory loads a new session's prior turns from the durable log.
func seedFromHistory(sink history.Sink) session.Seeder {
	return func(ctx context.Context, key session.Key, limit int) ([]session.Turn, error) {
		recs, err := sink.Recent(ctx, key.UserID, key.VideoID, limit)
		if err != nil {
			return nil, err
		}
		turns := make([]session.Turn, 0, len(recs))
		for _, rec := range recs {
			turns = append(turns, session.Turn{
				Role:     session.Role(rec.Role),
				Modality: rec.Modality,
				Text:     rec.Content,
				At:       rec.CreatedAt,
			})
		}
		return turns, nil
	}
}
