package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/antoniostano/recall/internal/cache"
	"github.com/antoniostano/recall/internal/config"
	"github.com/antoniostano/recall/internal/history"
	"github.com/antoniostano/recall/internal/httpapi"
	"github.com/antoniostano/recall/internal/logging"
	"github.com/antoniostano/recall/internal/memory"
	"github.com/antoniostano/recall/internal/observability"
	"github.com/antoniostano/recall/internal/session"
	"github.com/antoniostano/recall/internal/worker"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Memory   *memory.Manager
	History  *history.Service
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Logger   *zap.Logger

	// CacheMode and RemoteConfigured describe the persistence actually in use.
	CacheMode        string
	RemoteConfigured bool

	// Cleanup should be called on shutdown to release external resources (DB, cache file, workers).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	logger = logging.OrNop(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, registry)

	localCache, err := cache.New(cfg.CachePath)
	if err != nil {
		// The memory service must stay usable without a cache file.
		logger.Warn("local cache unavailable, falling back to in-process cache",
			zap.String("path", cfg.CachePath),
			zap.Error(err),
		)
		localCache = cache.NewMap()
	}

	remote, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = localCache.Close()
		return nil, fmt.Errorf("message store init failed: %w", err)
	}

	var pool *worker.Pool
	if remote != nil {
		pool, err = worker.NewPool(worker.Config{
			NumWorkers: uint(cfg.RemoteWorkers),
			QueueSize:  uint(cfg.RemoteQueueSize),
			Logger:     logger.Named("worker"),
			OnDone: func(name string, err error) {
				if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrClosed) {
					metrics.ObserveRemoteDropped(strings.TrimPrefix(name, "history."))
				}
			},
		})
		if err != nil {
			_ = remote.Close()
			_ = localCache.Close()
			return nil, fmt.Errorf("worker pool init failed: %w", err)
		}
	}

	messages := history.NewService(history.Config{
		Cache:         localCache,
		Remote:        remote,
		Pool:          pool,
		Logger:        logger,
		Metrics:       metrics,
		LocalLimit:    cfg.MessagesLocalLimit,
		RecentLimit:   cfg.MessagesRecentLimit,
		RemoteTimeout: cfg.RemoteTimeout,
	})

	memories := memory.NewManager(localCache,
		memory.WithLogger(logger),
		memory.WithMetrics(metrics),
		memory.WithRetention(cfg.MemoryRetention),
	)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("expired", sessions.ActiveCount())
		logger.Debug("session expired", zap.String("session_id", s.ID), zap.String("user_id", s.UserID))
	})

	cacheMode := cache.Mode(localCache)
	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:  sessions,
		Memory:    memories,
		History:   messages,
		Metrics:   metrics,
		Gatherer:  registry,
		Logger:    logger,
		CacheMode: cacheMode,
	})

	cleanup := func() error {
		var errs []string
		// Drains queued remote writes before the store goes away.
		if err := messages.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := localCache.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	logger.Info("memory service built",
		zap.String("cache_mode", cacheMode),
		zap.Bool("remote_configured", remote != nil),
		zap.Duration("retention", cfg.MemoryRetention),
	)

	return &BuildResult{
		Config:           cfg,
		API:              api,
		Sessions:         sessions,
		Memory:           memories,
		History:          messages,
		Metrics:          metrics,
		Registry:         registry,
		Logger:           logger,
		CacheMode:        cacheMode,
		RemoteConfigured: remote != nil,
		Cleanup:          cleanup,
	}, nil
}

// StartBackground runs the session and retention janitors until ctx is done.
// A zero MemoryCleanupInterval leaves retention to explicit cleanup calls.
func (b *BuildResult) StartBackground(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, sessionSweepInterval(b.Config.SessionInactivityTimeout))
	if b.Config.MemoryCleanupInterval > 0 {
		b.Memory.StartJanitor(ctx, b.Config.MemoryCleanupInterval)
	}
}

func sessionSweepInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval < time.Second {
		return time.Second
	}
	if interval > time.Minute {
		return time.Minute
	}
	return interval
}
