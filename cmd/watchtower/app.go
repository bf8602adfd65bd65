package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"watchtower/internal/analyzer"
	"watchtower/internal/bus"
	"watchtower/internal/collector"
	"watchtower/internal/config"
	"watchtower/internal/scheduler"
	"watchtower/internal/source"
	"watchtower/internal/storage"
	"watchtower/internal/telemetry"
)

const memoryCacheSize = 32

// app holds the components shared by every command. Optional backends stay
// nil when their URL is not configured.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	exporter *telemetry.Prometheus

	store     *storage.Store
	repo      *storage.Repository
	cache     storage.SnapshotCache
	publisher *bus.Publisher

	closers []func()
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)
	return &app{cfg: cfg, logger: logger, exporter: telemetry.NewPrometheus(true)}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	db := a.cfg.Database
	store, err := storage.NewStore(ctx, db.URL, storage.PoolOptions{
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnIdleTime: db.MaxConnIdleTime,
		PingTimeout:     db.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.store = store
	a.repo = storage.NewRepository(store)
	a.closers = append(a.closers, store.Close)
	return nil
}

// connectBackends opens every configured backend. A backend that fails to
// connect is logged and left out so collection keeps running without it.
func (a *app) connectBackends(ctx context.Context) {
	if a.cfg.Database.URL != "" {
		if err := a.openStore(ctx); err != nil {
			a.logger.Error("history disabled", slog.String("error", err.Error()))
		}
	}
	a.cache = storage.NewMemoryCache(memoryCacheSize)
	if a.cfg.Redis.URL != "" {
		redisCache, err := storage.NewRedisCache(ctx, a.cfg.Redis.URL, a.cfg.Redis.SnapshotTTL)
		if err != nil {
			a.logger.Error("redis unavailable, caching snapshots in memory", slog.String("error", err.Error()))
		} else {
			a.cache = redisCache
			a.closers = append(a.closers, func() { _ = redisCache.Close() })
		}
	}
	if a.cfg.NATS.URL != "" {
		publisher, err := bus.NewPublisher(a.cfg.NATS.URL, a.logger)
		if err != nil {
			a.logger.Error("nats unavailable, suspects will not be published", slog.String("error", err.Error()))
		} else {
			a.publisher = publisher
			a.closers = append(a.closers, publisher.Close)
		}
	}
}

func (a *app) endpoints() (map[collector.Category]string, error) {
	endpoints := source.DefaultEndpoints()
	if a.cfg.API.EndpointsFile != "" {
		loaded, err := source.LoadEndpoints(a.cfg.API.EndpointsFile)
		if err != nil {
			return nil, fmt.Errorf("load endpoints file: %w", err)
		}
		endpoints = loaded
	}
	return source.MergeEndpoints(endpoints, a.cfg.API.Endpoints)
}

func (a *app) orchestrator() (*collector.Orchestrator, error) {
	endpoints, err := a.endpoints()
	if err != nil {
		return nil, err
	}
	src, err := source.NewHTTPSource(source.Config{
		BaseURL:          a.cfg.API.URL,
		APIKey:           a.cfg.API.Key,
		Timeout:          a.cfg.API.Timeout,
		Endpoints:        endpoints,
		FailureThreshold: a.cfg.API.BreakerThreshold,
		OpenTimeout:      a.cfg.API.BreakerTimeout,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return collector.NewOrchestrator(src.Sources(), a.exporter, a.cfg.Collection.CallTimeout, a.logger), nil
}

func (a *app) detector() *analyzer.Detector {
	if a.repo == nil {
		return nil
	}
	return analyzer.NewDetector(a.repo, analyzer.Thresholds{
		LowActivity:     a.cfg.Thresholds.LowActivity,
		HighFailureRate: a.cfg.Thresholds.HighFailureRate,
	})
}

func (a *app) outliers() *analyzer.OutlierAnalyzer {
	if a.repo == nil {
		return nil
	}
	return analyzer.NewOutlierAnalyzer(analyzer.StoredRates{Counter: a.repo}, a.cfg.Analysis.PeriodDays, a.cfg.Analysis.TopPercentile)
}

// pipeline wires one collection cycle with every available post-cycle step.
func (a *app) pipeline(orch *collector.Orchestrator, detector *analyzer.Detector, outliers *analyzer.OutlierAnalyzer) *scheduler.Pipeline {
	p := &scheduler.Pipeline{
		Collector:        orch,
		Cache:            a.cache,
		Exporter:         a.exporter,
		Logger:           a.logger,
		PostCycleTimeout: a.cfg.Collection.PostCycleTimeout,
	}
	if a.repo != nil {
		p.Recorder = storage.NewRecorder(a.repo)
	}
	if a.publisher != nil {
		p.Publisher = a.publisher
	}
	if detector != nil {
		p.Detector = detector
	}
	if outliers != nil {
		p.Analyzer = outliers
	}
	return p
}
