package analyzer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestUsersAboveAverageWorkedExample(t *testing.T) {
	rates := map[string]float64{"a": 10, "b": 13, "c": 16, "d": 19, "e": 22}
	avg := GlobalAverage(rates)
	if avg != 16 {
		t.Fatalf("expected average 16, got %v", avg)
	}
	// An externally supplied average is used as-is.
	above := UsersAboveAverage(rates, 15)
	if !reflect.DeepEqual(above, []string{"e", "d", "c"}) {
		t.Fatalf("unexpected above-average set: %v", above)
	}
	top := TopPercentile(rates, 15, 0.05)
	if !reflect.DeepEqual(top, []string{"e"}) {
		t.Fatalf("unexpected top percentile: %v", top)
	}
}

func TestTopPercentileSizing(t *testing.T) {
	if got := TopPercentile(map[string]float64{"a": 1, "b": 1}, 1, 0.05); len(got) != 0 {
		t.Fatalf("expected empty selection when nobody is above average, got %v", got)
	}
	if got := TopPercentile(map[string]float64{"solo": 5}, 1, 0.05); !reflect.DeepEqual(got, []string{"solo"}) {
		t.Fatalf("expected single player, got %v", got)
	}

	rates := map[string]float64{}
	for i := 0; i < 20; i++ {
		rates[fmt.Sprintf("p%02d", i)] = float64(100 + i)
	}
	if got := TopPercentile(rates, 0, 0.05); !reflect.DeepEqual(got, []string{"p19"}) {
		t.Fatalf("expected exactly one of 20, got %v", got)
	}
	rates["p20"] = 120
	if got := TopPercentile(rates, 0, 0.05); len(got) != 2 {
		t.Fatalf("expected ceil(21*0.05)=2, got %v", got)
	}
}

func TestTopPercentileTiesByID(t *testing.T) {
	rates := map[string]float64{"zed": 9, "amy": 9, "bob": 9, "low": 1}
	got := UsersAboveAverage(rates, 2)
	if !reflect.DeepEqual(got, []string{"amy", "bob", "zed"}) {
		t.Fatalf("unexpected tie order: %v", got)
	}
	if top := TopPercentile(rates, 2, 0.05); !reflect.DeepEqual(top, []string{"amy"}) {
		t.Fatalf("unexpected top with ties: %v", top)
	}
}

func TestBuildReport(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	period := PeriodEnding(now, 1)
	report := BuildReport(BehaviorMoves, map[string]float64{"a": 1, "b": 9}, 5, period, now)
	if report.Behavior != BehaviorMoves || !reflect.DeepEqual(report.SuspectIDs, []string{"b"}) {
		t.Fatalf("unexpected report: %#v", report)
	}
	if !report.Period.Start.Equal(now.AddDate(0, 0, -1)) || report.Period.Days != 1 {
		t.Fatalf("unexpected period: %#v", report.Period)
	}
}

type fakeRates struct {
	byBehavior map[Behavior]map[string]float64
	err        error
	since      time.Time
}

func (f *fakeRates) Rates(ctx context.Context, behavior Behavior, since, until time.Time) (map[string]float64, error) {
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	return f.byBehavior[behavior], nil
}

func TestOutlierAnalyzerAnalyze(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rates := &fakeRates{byBehavior: map[Behavior]map[string]float64{
		BehaviorNomadsCreated: {"a": 2, "b": 3, "c": 4, "d": 11},
	}}
	report, err := NewOutlierAnalyzer(rates, 7, 0).Analyze(context.Background(), BehaviorNomadsCreated, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.GlobalAverage != 5 || !reflect.DeepEqual(report.SuspectIDs, []string{"d"}) {
		t.Fatalf("unexpected report: %#v", report)
	}
	if !rates.since.Equal(now.AddDate(0, 0, -7)) || report.Period.Days != 7 {
		t.Fatalf("unexpected period: %#v", report.Period)
	}

	empty, err := NewOutlierAnalyzer(rates, 1, 0.05).Analyze(context.Background(), BehaviorMoves, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty.GlobalAverage != 0 || len(empty.SuspectIDs) != 0 {
		t.Fatalf("expected empty report, got %#v", empty)
	}
}

func TestOutlierAnalyzerWrapsErrors(t *testing.T) {
	rates := &fakeRates{err: errors.New("db down")}
	a := NewOutlierAnalyzer(rates, 1, 0.05)
	if _, err := a.Analyze(context.Background(), BehaviorMoves, time.Now()); !errors.Is(err, ErrDetection) {
		t.Fatalf("expected ErrDetection, got %v", err)
	}
	if _, err := a.Averages(context.Background(), time.Now()); !errors.Is(err, ErrDetection) {
		t.Fatalf("expected ErrDetection, got %v", err)
	}
}

func TestAveragesRoundsToTwoDecimals(t *testing.T) {
	rates := &fakeRates{byBehavior: map[Behavior]map[string]float64{
		BehaviorMoves:         {"a": 1, "b": 1, "c": 2},
		BehaviorNomadsCreated: {"a": 4},
	}}
	out, err := NewOutlierAnalyzer(rates, 1, 0.05).Averages(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AverageMovesPerUser != 1.33 || out.AverageNomadsCreatedPerUser != 4 {
		t.Fatalf("unexpected averages: %#v", out)
	}
}

type fakeCounter struct {
	names []string
}

func (f *fakeCounter) PlayerActionCounts(ctx context.Context, metricName string, since, until time.Time) (map[string]float64, error) {
	f.names = append(f.names, metricName)
	return map[string]float64{"p1": 3}, nil
}

func TestStoredRatesMapsBehaviorToAction(t *testing.T) {
	counter := &fakeCounter{}
	rates := StoredRates{Counter: counter}
	for _, behavior := range Behaviors {
		if _, err := rates.Rates(context.Background(), behavior, time.Now(), time.Now()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !reflect.DeepEqual(counter.names, []string{"move", "create"}) {
		t.Fatalf("unexpected action names: %v", counter.names)
	}
	if _, err := rates.Rates(context.Background(), Behavior("trades"), time.Now(), time.Now()); err == nil {
		t.Fatalf("expected error for unknown behavior")
	}
}
