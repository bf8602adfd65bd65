// Package seed writes a deterministic demo history so dashboards and the
// outlier detector have something to show before the first real cycles.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"watchtower/internal/storage"
	"watchtower/internal/telemetry"
)

const (
	Players   = 7
	Step      = 20 * time.Minute
	startHour = 9

	// heavyMover moves far more than everyone else.
	heavyMover = "user_6"
)

var actions = []string{"move", "create", "explore"}

func playerID(n int) string {
	return fmt.Sprintf("user_%d", n)
}

// Start is the first fixture point: 09:00 UTC today, or yesterday when now is
// earlier than that.
func Start(now time.Time) time.Time {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), startHour, 0, 0, 0, time.UTC)
	if start.After(now) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// Fixture builds one metric row per player and action every Step since Start.
func Fixture(now time.Time) storage.Records {
	start := Start(now)
	points := int(now.Sub(start) / Step)
	var records storage.Records
	totals := make([]int, Players)
	for i := 0; i < points; i++ {
		ts := start.Add(time.Duration(i) * Step)
		for a, action := range actions {
			for u := 0; u < Players; u++ {
				id := playerID(u)
				value := 5 + (a+u+i)%10
				if id == heavyMover && action == "move" {
					value *= 4
				}
				totals[u] += value
				records.Metrics = append(records.Metrics, storage.GameplayMetric{
					Timestamp:  ts,
					MetricType: storage.MetricTypeNomadAction,
					MetricName: action,
					Value:      float64(value),
					PlayerID:   &id,
					ExtraData:  map[string]any{"status": storage.StatusSuccess, "seeded": true},
				})
			}
		}
	}
	if points == 0 {
		return records
	}
	last := start.Add(time.Duration(points-1) * Step)
	for u := 0; u < Players; u++ {
		records.Activities = append(records.Activities, storage.PlayerActivity{
			Timestamp:     last,
			PlayerID:      playerID(u),
			DwellingLevel: 1 + u%4,
			ActiveNomads:  1 + u%3,
			GoldAmount:    float64(10 + u),
			SpiceAmount:   float64(u) * 2.5,
			ActionsCount:  totals[u],
		})
	}
	for i := 0; i < 3; i++ {
		records.Events = append(records.Events, storage.EventMetric{
			Timestamp:       start.Add(time.Duration(i) * time.Hour),
			EventType:       fmt.Sprintf("event_%d", i),
			AffectedPlayers: 1 + i,
			ExtraData:       map[string]any{"seeded": true},
		})
	}
	return records
}

// Run writes the fixture and mirrors its totals into the exporter.
func Run(ctx context.Context, writer storage.RecordWriter, exporter telemetry.Exporter, now time.Time, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	records := Fixture(now)
	if err := writer.InsertRecords(ctx, records); err != nil {
		return 0, fmt.Errorf("seed demo history: %w", err)
	}
	if exporter != nil {
		observe(exporter, records)
	}
	rows := len(records.Metrics) + len(records.Activities) + len(records.Events)
	logger.Info("seeded demo history",
		slog.Int("rows", rows),
		slog.Time("since", Start(now)),
	)
	return rows, nil
}

// Store is a RecordWriter that can tell whether demo history was written
// before.
type Store interface {
	storage.RecordWriter
	HasSeededRows(ctx context.Context) (bool, error)
}

// RunOnce seeds only when the store holds no seeded rows yet. It returns 0
// rows when the history is already there.
func RunOnce(ctx context.Context, store Store, exporter telemetry.Exporter, now time.Time, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seeded, err := store.HasSeededRows(ctx)
	if err != nil {
		return 0, fmt.Errorf("check seeded history: %w", err)
	}
	if seeded {
		logger.Info("demo history already present, skipping seed")
		return 0, nil
	}
	return Run(ctx, store, exporter, now, logger)
}

func observe(exporter telemetry.Exporter, records storage.Records) {
	for _, metric := range records.Metrics {
		exporter.AddNomadActions(metric.MetricName, int(metric.Value))
	}
	active := 0
	for _, activity := range records.Activities {
		exporter.SetDwellingLevel(activity.PlayerID, float64(activity.DwellingLevel))
		exporter.AddResources("gold", activity.GoldAmount)
		active += activity.ActiveNomads
	}
	exporter.SetActiveNomads("all", float64(active))
	for _, event := range records.Events {
		exporter.AddEvents(event.EventType, 1)
	}
}
