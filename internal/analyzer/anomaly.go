package analyzer

import (
	"context"
	"fmt"
	"time"

	"watchtower/internal/storage"
)

const (
	LowActivityWindow = 5 * time.Minute
	FailureRateWindow = 10 * time.Minute
	TopPlayersWindow  = 24 * time.Hour
)

// History is the read side of persisted gameplay data.
type History interface {
	CountMetrics(ctx context.Context, since, until time.Time, metricType string) (int, error)
	CountFailedMetrics(ctx context.Context, since, until time.Time) (int, error)
	CountActivePlayers(ctx context.Context, since, until time.Time) (int, error)
	TopPlayers(ctx context.Context, since time.Time, limit int) ([]storage.PlayerActivity, error)
}

// Detector evaluates threshold rules against recent history. It never writes.
type Detector struct {
	history    History
	thresholds Thresholds
}

func NewDetector(history History, thresholds Thresholds) *Detector {
	return &Detector{history: history, thresholds: thresholds}
}

func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// Detect runs both rules independently; either, both or neither may fire.
func (d *Detector) Detect(ctx context.Context, now time.Time) ([]Alert, error) {
	alerts := []Alert{}

	actions, err := d.history.CountMetrics(ctx, now.Add(-LowActivityWindow), now, storage.MetricTypeNomadAction)
	if err != nil {
		return nil, fmt.Errorf("%w: count nomad actions: %w", ErrDetection, err)
	}
	if alert, ok := EvaluateLowActivity(actions, d.thresholds.LowActivity, now); ok {
		alerts = append(alerts, alert)
	}

	since := now.Add(-FailureRateWindow)
	total, err := d.history.CountMetrics(ctx, since, now, "")
	if err != nil {
		return nil, fmt.Errorf("%w: count metrics: %w", ErrDetection, err)
	}
	failed := 0
	if total > 0 {
		failed, err = d.history.CountFailedMetrics(ctx, since, now)
		if err != nil {
			return nil, fmt.Errorf("%w: count failed metrics: %w", ErrDetection, err)
		}
	}
	if alert, ok := EvaluateFailureRate(failed, total, d.thresholds.HighFailureRate, now); ok {
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// EvaluateLowActivity fires when the observed count is strictly below threshold.
func EvaluateLowActivity(count, threshold int, now time.Time) (Alert, bool) {
	if count >= threshold {
		return Alert{}, false
	}
	return Alert{
		Type:          AlertLowActivity,
		Severity:      SeverityWarning,
		Message:       fmt.Sprintf("low activity detected: %d actions in %s", count, LowActivityWindow),
		ObservedValue: float64(count),
		Threshold:     float64(threshold),
		Timestamp:     now,
	}, true
}

// EvaluateFailureRate fires when the window is non-empty and failed/total
// strictly exceeds threshold.
func EvaluateFailureRate(failed, total int, threshold float64, now time.Time) (Alert, bool) {
	if total <= 0 {
		return Alert{}, false
	}
	ratio := float64(failed) / float64(total)
	if ratio <= threshold {
		return Alert{}, false
	}
	return Alert{
		Type:          AlertHighFailureRate,
		Severity:      SeverityCritical,
		Message:       fmt.Sprintf("high failure rate: %.2f%% over %s", ratio*100, FailureRateWindow),
		ObservedValue: ratio,
		Threshold:     threshold,
		Timestamp:     now,
	}, true
}

type Engagement struct {
	ActivePlayers       int     `json:"active_players"`
	TotalActions        int     `json:"total_actions"`
	AvgActionsPerPlayer float64 `json:"avg_actions_per_player"`
	WindowSeconds       int     `json:"time_window"`
}

// Engagement summarises player activity over the window ending at now.
func (d *Detector) Engagement(ctx context.Context, window time.Duration, now time.Time) (Engagement, error) {
	since := now.Add(-window)
	players, err := d.history.CountActivePlayers(ctx, since, now)
	if err != nil {
		return Engagement{}, fmt.Errorf("%w: count active players: %w", ErrDetection, err)
	}
	actions, err := d.history.CountMetrics(ctx, since, now, storage.MetricTypeNomadAction)
	if err != nil {
		return Engagement{}, fmt.Errorf("%w: count nomad actions: %w", ErrDetection, err)
	}
	out := Engagement{ActivePlayers: players, TotalActions: actions, WindowSeconds: int(window.Seconds())}
	if players > 0 {
		out.AvgActionsPerPlayer = float64(actions) / float64(players)
	}
	return out, nil
}

type PlayerRank struct {
	PlayerID      string  `json:"player_id"`
	Actions       int     `json:"actions"`
	DwellingLevel int     `json:"dwelling_level"`
	Gold          float64 `json:"gold"`
	Spice         float64 `json:"spice"`
}

// TopPlayers ranks the most active players over the last 24 hours.
func (d *Detector) TopPlayers(ctx context.Context, limit int, now time.Time) ([]PlayerRank, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.history.TopPlayers(ctx, now.Add(-TopPlayersWindow), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: top players: %w", ErrDetection, err)
	}
	ranks := make([]PlayerRank, 0, len(rows))
	for _, row := range rows {
		ranks = append(ranks, PlayerRank{
			PlayerID:      row.PlayerID,
			Actions:       row.ActionsCount,
			DwellingLevel: row.DwellingLevel,
			Gold:          row.GoldAmount,
			Spice:         row.SpiceAmount,
		})
	}
	return ranks, nil
}
