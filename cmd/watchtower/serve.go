package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"watchtower/internal/api"
	"watchtower/internal/scheduler"
	"watchtower/internal/seed"
	"watchtower/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.serve(ctx)
	},
}

func (a *app) serve(ctx context.Context) error {
	a.connectBackends(ctx)
	if a.cfg.Seed.Enabled && a.repo != nil {
		if _, err := seed.RunOnce(ctx, a.repo, a.exporter, time.Now().UTC(), a.logger); err != nil {
			a.logger.Error("demo seeding failed", slog.String("error", err.Error()))
		}
	}

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}
	detector := a.detector()
	outliers := a.outliers()
	sched := scheduler.New(a.pipeline(orch, detector, outliers), a.cfg.Collection.Interval, a.logger)
	defer func() {
		if err := sched.Close(); err != nil {
			a.logger.Error("failed to close collector", slog.String("error", err.Error()))
		}
	}()

	handler := &api.Handler{
		Cycles:  sched,
		Cache:   a.cache,
		Metrics: a.exporter.Handler(),
		Thresholds: api.Thresholds{
			LowActivity:     a.cfg.Thresholds.LowActivity,
			HighFailureRate: a.cfg.Thresholds.HighFailureRate,
			ResourceWarning: a.cfg.Thresholds.ResourceWarning,
		},
		Timeout:          5 * time.Second,
		TriggerPerMinute: a.cfg.HTTP.TriggerPerMinute,
		Logger:           a.logger,
	}
	if detector != nil {
		handler.Stats = detector
	}
	if outliers != nil {
		handler.Averages = outliers
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(a.cfg.HTTP.Port),
		Handler:      api.NewRouter(handler, a.cfg.HTTP.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: a.cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  30 * time.Second,
	}

	tree := supervisor.NewTree(a.logger, supervisor.DefaultTreeConfig())
	tree.AddCollectionService(sched)
	tree.AddAPIService(supervisor.NewHTTPService(srv, 10*time.Second))

	a.logger.Info("watchtower listening",
		slog.Int("port", a.cfg.HTTP.Port),
		slog.Duration("interval", sched.Interval()),
		slog.Bool("history", a.repo != nil),
		slog.Bool("nats", a.publisher != nil),
	)
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("watchtower stopped")
	return nil
}
