package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"watchtower/internal/analyzer"
	"watchtower/internal/collector"
	"watchtower/internal/telemetry"
)

type Collector interface {
	RunCycle(ctx context.Context) *collector.Snapshot
	Close() error
}

type Recorder interface {
	Record(ctx context.Context, snap *collector.Snapshot) (int, error)
}

type Cache interface {
	Put(ctx context.Context, id string, data []byte) error
}

type Publisher interface {
	PublishSnapshot(snap *collector.Snapshot) error
	PublishSuspects(report analyzer.SuspectReport) error
}

type Detector interface {
	Detect(ctx context.Context, now time.Time) ([]analyzer.Alert, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, behavior analyzer.Behavior, now time.Time) (analyzer.SuspectReport, error)
}

const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Pipeline is one collection cycle followed by its post-cycle steps. Only
// Collector is required; a nil step is skipped. A failing step is logged and
// never fails the cycle.
type Pipeline struct {
	Collector Collector
	Recorder  Recorder
	Cache     Cache
	Publisher Publisher
	Detector  Detector
	Analyzer  Analyzer
	Exporter  telemetry.Exporter
	Logger    *slog.Logger
	Now       func() time.Time
	// PostCycleTimeout bounds every step after collection. Zero leaves the
	// steps bound only by the caller's context.
	PostCycleTimeout time.Duration

	mu      sync.RWMutex
	latest  *collector.Snapshot
	alerts  []analyzer.Alert
	reports map[analyzer.Behavior]analyzer.SuspectReport
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) exporter() telemetry.Exporter {
	if p.Exporter == nil {
		return telemetry.Nop{}
	}
	return p.Exporter
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now()
}

// Outcome classifies a snapshot by how many categories failed.
func Outcome(snap *collector.Snapshot) string {
	switch failed := len(snap.Failed()); {
	case failed == 0:
		return OutcomeSuccess
	case failed == len(collector.Categories):
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Run executes one full cycle and returns its snapshot.
func (p *Pipeline) Run(ctx context.Context, trigger string) *collector.Snapshot {
	logger := p.logger().With(slog.String("trigger", trigger))
	started := time.Now()

	snap := p.Collector.RunCycle(ctx)
	outcome := Outcome(snap)
	p.exporter().IncCycle(outcome)
	p.mu.Lock()
	p.latest = snap
	p.mu.Unlock()

	logger = logger.With(slog.String("snapshot_id", snap.ID()))
	if p.PostCycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.PostCycleTimeout)
		defer cancel()
	}
	if p.Cache != nil {
		if data, err := json.Marshal(snap); err != nil {
			logger.Error("failed to encode snapshot", slog.String("error", err.Error()))
		} else if err := p.Cache.Put(ctx, snap.ID(), data); err != nil {
			logger.Error("failed to cache snapshot", slog.String("error", err.Error()))
		}
	}
	if p.Recorder != nil {
		if rows, err := p.Recorder.Record(ctx, snap); err != nil {
			logger.Error("failed to record snapshot", slog.String("error", err.Error()))
		} else {
			logger.Debug("recorded snapshot", slog.Int("rows", rows))
		}
	}
	if p.Publisher != nil {
		if err := p.Publisher.PublishSnapshot(snap); err != nil {
			logger.Error("failed to publish snapshot", slog.String("error", err.Error()))
		}
	}

	now := p.now()
	if p.Detector != nil {
		p.detect(ctx, logger, now)
	}
	if p.Analyzer != nil {
		p.analyze(ctx, logger, now)
	}

	failed := make([]string, 0)
	for _, category := range snap.Failed() {
		failed = append(failed, string(category))
	}
	logger.Info("collection cycle completed",
		slog.String("outcome", outcome),
		slog.Any("failed_categories", failed),
		slog.Duration("duration", time.Since(started)),
	)
	return snap
}

func (p *Pipeline) detect(ctx context.Context, logger *slog.Logger, now time.Time) {
	alerts, err := p.Detector.Detect(ctx, now)
	if err != nil {
		logger.Error("anomaly detection skipped", slog.String("error", err.Error()))
		return
	}
	for _, alert := range alerts {
		p.exporter().IncAlert(string(alert.Type), string(alert.Severity))
		logger.Warn("anomaly detected",
			slog.String("type", string(alert.Type)),
			slog.String("severity", string(alert.Severity)),
			slog.Float64("value", alert.ObservedValue),
			slog.Float64("threshold", alert.Threshold),
		)
	}
	p.mu.Lock()
	p.alerts = alerts
	p.mu.Unlock()
}

func (p *Pipeline) analyze(ctx context.Context, logger *slog.Logger, now time.Time) {
	for _, behavior := range analyzer.Behaviors {
		report, err := p.Analyzer.Analyze(ctx, behavior, now)
		if err != nil {
			logger.Error("outlier analysis skipped",
				slog.String("behavior", string(behavior)),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.mu.Lock()
		if p.reports == nil {
			p.reports = map[analyzer.Behavior]analyzer.SuspectReport{}
		}
		p.reports[behavior] = report
		p.mu.Unlock()
		if p.Publisher == nil {
			continue
		}
		if err := p.Publisher.PublishSuspects(report); err != nil {
			logger.Error("failed to publish suspects",
				slog.String("behavior", string(behavior)),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.exporter().IncSuspectReport(string(behavior))
	}
}

func (p *Pipeline) Latest() *collector.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// LatestAlerts returns the alerts of the most recent successful detection.
func (p *Pipeline) LatestAlerts() []analyzer.Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]analyzer.Alert{}, p.alerts...)
}

func (p *Pipeline) LatestReport(behavior analyzer.Behavior) (analyzer.SuspectReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	report, ok := p.reports[behavior]
	return report, ok
}
