package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"watchtower/internal/analyzer"
	"watchtower/internal/collector"
	"watchtower/internal/telemetry"
)

const DefaultInterval = 60 * time.Second

var (
	ErrCycleInProgress  = errors.New("collection cycle already in progress")
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// Scheduler runs the pipeline on a fixed interval and on demand. At most one
// cycle runs at any time: a tick that finds a cycle running is skipped and a
// manual trigger is rejected with ErrCycleInProgress.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
	logger   *slog.Logger
	exporter telemetry.Exporter

	sem      *semaphore.Weighted
	mu       sync.Mutex
	stopped  bool
	inFlight sync.WaitGroup
	running  atomic.Bool
	skipped  atomic.Int64
	closed   sync.Once
}

func New(pipeline *Pipeline, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	exporter := pipeline.Exporter
	if exporter == nil {
		exporter = telemetry.Nop{}
	}
	return &Scheduler{
		pipeline: pipeline,
		interval: interval,
		logger:   logger,
		exporter: exporter,
		sem:      semaphore.NewWeighted(1),
	}
}

func (s *Scheduler) String() string {
	return "cycle-scheduler"
}

// Serve runs a cycle immediately and then on every tick until ctx is
// cancelled. It returns once the in-flight cycle, if any, has completed.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.begin() {
		s.skipped.Add(1)
		s.exporter.IncCycleSkipped()
		s.logger.Warn("skipping tick, previous cycle still running")
		return
	}
	go func() {
		defer s.end()
		s.pipeline.Run(context.WithoutCancel(ctx), "tick")
	}()
}

// Trigger runs one cycle now and returns its snapshot.
func (s *Scheduler) Trigger(ctx context.Context) (*collector.Snapshot, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSchedulerStopped
	}
	s.mu.Unlock()
	if !s.begin() {
		return nil, ErrCycleInProgress
	}
	defer s.end()
	return s.pipeline.Run(context.WithoutCancel(ctx), "manual"), nil
}

// begin claims the single cycle slot. It fails when a cycle is running or
// the scheduler has stopped.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.sem.TryAcquire(1) {
		return false
	}
	s.inFlight.Add(1)
	s.running.Store(true)
	return true
}

func (s *Scheduler) end() {
	s.running.Store(false)
	s.sem.Release(1)
	s.inFlight.Done()
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.inFlight.Wait()
}

// Close stops the scheduler, waits for the in-flight cycle and releases the
// pipeline's collector.
func (s *Scheduler) Close() error {
	s.stop()
	var err error
	s.closed.Do(func() {
		if s.pipeline.Collector != nil {
			err = s.pipeline.Collector.Close()
		}
	})
	return err
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Skipped is the number of ticks dropped because a cycle was running.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) Latest() *collector.Snapshot {
	return s.pipeline.Latest()
}

func (s *Scheduler) LatestAlerts() []analyzer.Alert {
	return s.pipeline.LatestAlerts()
}
