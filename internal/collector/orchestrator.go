package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"watchtower/internal/telemetry"
)

const DefaultCallTimeout = 30 * time.Second

// Orchestrator fans a collection cycle out to one Source per category.
type Orchestrator struct {
	sources     map[Category]Source
	exporter    telemetry.Exporter
	callTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewOrchestrator(sources map[Category]Source, exporter telemetry.Exporter, callTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if exporter == nil {
		exporter = telemetry.Nop{}
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	registered := make(map[Category]Source, len(sources))
	for category, src := range sources {
		registered[category] = src
	}
	return &Orchestrator{
		sources:     registered,
		exporter:    exporter,
		callTimeout: callTimeout,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle collects every category concurrently and always returns a complete
// snapshot. Per-category failures are absorbed into Failure results; a panic in
// the orchestrator itself yields an all-categories-failed snapshot.
func (o *Orchestrator) RunCycle(ctx context.Context) (snap *Snapshot) {
	id := uuid.NewString()
	started := o.now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("collection cycle panicked", slog.String("cycle_id", id), slog.String("error", fmt.Sprint(r)))
			snap = FailedSnapshot(id, started, KindUnknown, fmt.Sprintf("collection cycle failed: %v", r))
		}
	}()

	type outcome struct {
		category Category
		result   Result
	}
	outcomes := make(chan outcome, len(Categories))
	var wg sync.WaitGroup
	for _, category := range Categories {
		wg.Add(1)
		go func(category Category) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes <- outcome{category: category, result: Failure{Kind: KindUnknown, Message: fmt.Sprintf("collection panicked: %v", r)}}
				}
			}()
			outcomes <- outcome{category: category, result: o.fetch(ctx, category)}
		}(category)
	}
	wg.Wait()
	close(outcomes)

	results := make(map[Category]Result, len(Categories))
	for out := range outcomes {
		results[out.category] = out.result
	}
	snap = NewSnapshot(id, started, results)
	o.exportGauges(snap)

	failed := snap.Failed()
	o.logger.Info("collection cycle complete",
		slog.String("cycle_id", id),
		slog.Int("categories", len(Categories)),
		slog.Int("failed", len(failed)),
		slog.Duration("duration", o.now().Sub(started)),
	)
	return snap
}

func (o *Orchestrator) fetch(ctx context.Context, category Category) Result {
	src, ok := o.sources[category]
	if !ok || src == nil {
		result := Failure{Kind: KindUnknown, Message: "no source registered"}
		o.exporter.IncError(string(category), string(result.Kind))
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failure{Kind: KindUnknown, Message: fmt.Sprintf("source panicked: %v", r)}
			}
		}()
		done <- src.Fetch(callCtx, category)
	}()

	var result Result
	select {
	case result = <-done:
	case <-callCtx.Done():
		result = contextFailure(callCtx.Err())
	}
	o.exporter.ObserveLatency(string(category), time.Since(start))

	switch r := result.(type) {
	case Success:
		if r.Payload == nil {
			r.Payload = Payload{}
		}
		return r
	case Failure:
		o.exporter.IncError(string(category), string(r.Kind))
		o.logger.Warn("category collection failed",
			slog.String("category", string(category)),
			slog.String("kind", string(r.Kind)),
			slog.String("error", r.Message),
		)
		return r
	default:
		failure := Failure{Kind: KindUnknown, Message: "source returned no result"}
		o.exporter.IncError(string(category), string(failure.Kind))
		return failure
	}
}

func contextFailure(err error) Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return Failure{Kind: KindTimeout, Message: "call timed out"}
	}
	return Failure{Kind: KindNetworkError, Message: err.Error()}
}

// exportGauges mirrors snapshot contents into the exporter. A panic here is
// logged and never replaces the assembled snapshot.
func (o *Orchestrator) exportGauges(snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("gauge export failed",
				slog.String("cycle_id", snap.ID()),
				slog.String("error", fmt.Sprint(r)),
			)
		}
	}()
	if payload, ok := snap.Payload(CategoryNomads); ok {
		for _, nomad := range Items(payload, "nomads") {
			player := stringField(nomad, "player_id")
			if player == "" {
				continue
			}
			count := 1.0
			if v, err := toFloat(nomad["count"]); err == nil {
				count = v
			}
			o.exporter.SetActiveNomads(player, count)
		}
		for action, n := range snap.Nomads().ByAction {
			o.exporter.AddNomadActions(action, n)
		}
	}
	if payload, ok := snap.Payload(CategoryDwellings); ok {
		for _, dwelling := range Items(payload, "dwellings") {
			player := stringField(dwelling, "player_id")
			if player == "" {
				continue
			}
			o.exporter.SetDwellingLevel(player, floatField(dwelling, "level"))
		}
	}
	if _, ok := snap.Result(CategoryResources).(Success); ok {
		resources := snap.Resources()
		o.exporter.AddResources("gold", resources.TotalGold)
		o.exporter.AddResources("spice", resources.TotalSpice)
	}
	if _, ok := snap.Result(CategoryPvP).(Success); ok {
		o.exporter.AddPvPActions(snap.PvP().TotalAttacks)
	}
	if _, ok := snap.Result(CategoryEvents).(Success); ok {
		for eventType, stats := range snap.Events().ByType {
			o.exporter.AddEvents(eventType, stats.Count)
		}
	}
}

// Close releases every source that holds resources. A source registered for
// several categories is closed once per registration, so Close on sources
// must be idempotent.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, src := range o.sources {
		if closer, ok := src.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
