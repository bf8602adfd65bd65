package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

const DefaultTopPercentile = 0.05

// percentileEpsilon absorbs float error in count*p (20*0.05 is not exactly 1).
const percentileEpsilon = 1e-9

type rankedPlayer struct {
	id   string
	rate float64
}

func rankAboveAverage(rates map[string]float64, globalAverage float64) []rankedPlayer {
	above := make([]rankedPlayer, 0, len(rates))
	for id, rate := range rates {
		if rate > globalAverage {
			above = append(above, rankedPlayer{id: id, rate: rate})
		}
	}
	sort.Slice(above, func(i, j int) bool {
		if above[i].rate != above[j].rate {
			return above[i].rate > above[j].rate
		}
		return above[i].id < above[j].id
	})
	return above
}

// UsersAboveAverage returns every player whose rate strictly exceeds the
// global average, by descending rate then ascending id.
func UsersAboveAverage(rates map[string]float64, globalAverage float64) []string {
	ranked := rankAboveAverage(rates, globalAverage)
	ids := make([]string, len(ranked))
	for i, p := range ranked {
		ids[i] = p.id
	}
	return ids
}

// TopPercentile selects the top p share of the above-average players. The
// selection holds at least one player whenever anyone is above average.
func TopPercentile(rates map[string]float64, globalAverage, p float64) []string {
	above := UsersAboveAverage(rates, globalAverage)
	if len(above) == 0 {
		return []string{}
	}
	n := int(math.Ceil(float64(len(above))*p - percentileEpsilon))
	if n < 1 {
		n = 1
	}
	if n > len(above) {
		n = len(above)
	}
	return above[:n]
}

// BuildReport computes the suspect report for one behavior.
func BuildReport(behavior Behavior, rates map[string]float64, globalAverage float64, period Period, now time.Time) SuspectReport {
	return SuspectReport{
		Behavior:      behavior,
		SuspectIDs:    TopPercentile(rates, globalAverage, DefaultTopPercentile),
		GlobalAverage: globalAverage,
		Period:        period,
		Timestamp:     now,
	}
}

// RateSource supplies the per-player rate of a behavior over a time range.
type RateSource interface {
	Rates(ctx context.Context, behavior Behavior, since, until time.Time) (map[string]float64, error)
}

// ActionCounter sums recorded nomad actions per player.
type ActionCounter interface {
	PlayerActionCounts(ctx context.Context, metricName string, since, until time.Time) (map[string]float64, error)
}

// actionNames maps each behavior to the nomad action recorded for it.
var actionNames = map[Behavior]string{
	BehaviorMoves:         "move",
	BehaviorNomadsCreated: "create",
}

// StoredRates derives per-player rates from recorded nomad actions.
type StoredRates struct {
	Counter ActionCounter
}

func (s StoredRates) Rates(ctx context.Context, behavior Behavior, since, until time.Time) (map[string]float64, error) {
	name, ok := actionNames[behavior]
	if !ok {
		return nil, fmt.Errorf("unknown behavior %q", behavior)
	}
	return s.Counter.PlayerActionCounts(ctx, name, since, until)
}

// OutlierAnalyzer turns per-player rates into suspect reports.
type OutlierAnalyzer struct {
	rates      RateSource
	periodDays int
	percentile float64
}

func NewOutlierAnalyzer(rates RateSource, periodDays int, percentile float64) *OutlierAnalyzer {
	if periodDays <= 0 {
		periodDays = 1
	}
	if percentile <= 0 || percentile > 1 {
		percentile = DefaultTopPercentile
	}
	return &OutlierAnalyzer{rates: rates, periodDays: periodDays, percentile: percentile}
}

// Analyze reads the rates for behavior over the configured period ending at
// now and returns the report. It has no side effects.
func (a *OutlierAnalyzer) Analyze(ctx context.Context, behavior Behavior, now time.Time) (SuspectReport, error) {
	period := PeriodEnding(now, a.periodDays)
	rates, err := a.rates.Rates(ctx, behavior, period.Start, period.End)
	if err != nil {
		return SuspectReport{}, fmt.Errorf("%w: %s rates: %w", ErrDetection, behavior, err)
	}
	average := GlobalAverage(rates)
	return SuspectReport{
		Behavior:      behavior,
		SuspectIDs:    TopPercentile(rates, average, a.percentile),
		GlobalAverage: average,
		Period:        period,
		Timestamp:     now,
	}, nil
}

type AverageSummary struct {
	AverageMovesPerUser         float64   `json:"average_moves_per_user"`
	AverageNomadsCreatedPerUser float64   `json:"average_nomads_created_per_user"`
	Period                      Period    `json:"period"`
	Timestamp                   time.Time `json:"timestamp"`
}

// Averages reports the global average of both behaviors over the period.
func (a *OutlierAnalyzer) Averages(ctx context.Context, now time.Time) (AverageSummary, error) {
	period := PeriodEnding(now, a.periodDays)
	out := AverageSummary{Period: period, Timestamp: now}
	for _, behavior := range Behaviors {
		rates, err := a.rates.Rates(ctx, behavior, period.Start, period.End)
		if err != nil {
			return AverageSummary{}, fmt.Errorf("%w: %s rates: %w", ErrDetection, behavior, err)
		}
		avg := round2(GlobalAverage(rates))
		switch behavior {
		case BehaviorMoves:
			out.AverageMovesPerUser = avg
		case BehaviorNomadsCreated:
			out.AverageNomadsCreatedPerUser = avg
		}
	}
	return out, nil
}

// GlobalAverage is the mean rate over every reporting player, 0 for none.
func GlobalAverage(rates map[string]float64) float64 {
	values := make([]float64, 0, len(rates))
	for _, rate := range rates {
		values = append(values, rate)
	}
	return Mean(values)
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
