package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"watchtower/internal/storage"
)

type fakeHistory struct {
	actions int
	total   int
	failed  int
	players int
	top     []storage.PlayerActivity
	err     error

	failedCalls int
	lastSince   time.Time
	lastLimit   int
}

func (f *fakeHistory) CountMetrics(ctx context.Context, since, until time.Time, metricType string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if metricType == storage.MetricTypeNomadAction {
		return f.actions, nil
	}
	return f.total, nil
}

func (f *fakeHistory) CountFailedMetrics(ctx context.Context, since, until time.Time) (int, error) {
	f.failedCalls++
	return f.failed, f.err
}

func (f *fakeHistory) CountActivePlayers(ctx context.Context, since, until time.Time) (int, error) {
	return f.players, f.err
}

func (f *fakeHistory) TopPlayers(ctx context.Context, since time.Time, limit int) ([]storage.PlayerActivity, error) {
	f.lastSince = since
	f.lastLimit = limit
	return f.top, f.err
}

func alertTypes(alerts []Alert) map[AlertType]Alert {
	out := map[AlertType]Alert{}
	for _, a := range alerts {
		out[a.Type] = a
	}
	return out
}

func TestLowActivityBoundary(t *testing.T) {
	now := time.Now()
	if _, ok := EvaluateLowActivity(10, 10, now); ok {
		t.Fatalf("count equal to threshold must not fire")
	}
	alert, ok := EvaluateLowActivity(9, 10, now)
	if !ok {
		t.Fatalf("expected alert below threshold")
	}
	if alert.Severity != SeverityWarning || alert.ObservedValue != 9 || alert.Threshold != 10 {
		t.Fatalf("unexpected alert: %#v", alert)
	}
}

func TestFailureRateEmptyWindowNeverFires(t *testing.T) {
	if _, ok := EvaluateFailureRate(0, 0, 0, time.Now()); ok {
		t.Fatalf("empty window must not fire")
	}
	if _, ok := EvaluateFailureRate(3, 20, 0.15, time.Now()); ok {
		t.Fatalf("ratio equal to threshold must not fire")
	}
	alert, ok := EvaluateFailureRate(4, 20, 0.15, time.Now())
	if !ok || alert.Severity != SeverityCritical || alert.ObservedValue != 0.2 {
		t.Fatalf("unexpected alert: %#v %v", alert, ok)
	}
}

func TestDetectBothRulesIndependent(t *testing.T) {
	history := &fakeHistory{actions: 2, total: 10, failed: 5}
	alerts, err := NewDetector(history, DefaultThresholds()).Detect(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byType := alertTypes(alerts)
	if len(byType) != 2 {
		t.Fatalf("expected both alerts, got %#v", alerts)
	}
	if byType[AlertLowActivity].ObservedValue != 2 {
		t.Fatalf("unexpected low activity alert: %#v", byType[AlertLowActivity])
	}

	history = &fakeHistory{actions: 50, total: 10, failed: 1}
	alerts, err = NewDetector(history, DefaultThresholds()).Detect(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %#v", alerts)
	}
}

func TestDetectSkipsFailedCountOnEmptyWindow(t *testing.T) {
	history := &fakeHistory{actions: 20}
	alerts, err := NewDetector(history, DefaultThresholds()).Detect(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 0 || history.failedCalls != 0 {
		t.Fatalf("expected no alerts and no failed count, got %#v (%d calls)", alerts, history.failedCalls)
	}
}

func TestDetectWrapsStorageErrors(t *testing.T) {
	history := &fakeHistory{err: errors.New("connection reset")}
	_, err := NewDetector(history, DefaultThresholds()).Detect(context.Background(), time.Now())
	if !errors.Is(err, ErrDetection) {
		t.Fatalf("expected ErrDetection, got %v", err)
	}
}

func TestEngagement(t *testing.T) {
	history := &fakeHistory{actions: 30, players: 4}
	d := NewDetector(history, DefaultThresholds())
	out, err := d.Engagement(context.Background(), time.Hour, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ActivePlayers != 4 || out.TotalActions != 30 || out.AvgActionsPerPlayer != 7.5 || out.WindowSeconds != 3600 {
		t.Fatalf("unexpected engagement: %#v", out)
	}

	empty, err := NewDetector(&fakeHistory{actions: 3}, DefaultThresholds()).Engagement(context.Background(), time.Hour, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty.AvgActionsPerPlayer != 0 {
		t.Fatalf("expected 0 average without players, got %v", empty.AvgActionsPerPlayer)
	}
}

func TestTopPlayersUsesDayWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := &fakeHistory{top: []storage.PlayerActivity{
		{PlayerID: "p1", ActionsCount: 12, DwellingLevel: 3, GoldAmount: 100, SpiceAmount: 7},
	}}
	ranks, err := NewDetector(history, DefaultThresholds()).TopPlayers(context.Background(), 0, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history.lastLimit != 10 || !history.lastSince.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("unexpected query: limit=%d since=%s", history.lastLimit, history.lastSince)
	}
	if len(ranks) != 1 || ranks[0].Actions != 12 || ranks[0].Gold != 100 {
		t.Fatalf("unexpected ranks: %#v", ranks)
	}
}
