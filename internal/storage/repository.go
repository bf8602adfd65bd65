package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) InsertGameplayMetrics(ctx context.Context, metrics []GameplayMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queueGameplayMetrics(batch, metrics)
	return r.Store.Pool.SendBatch(ctx, batch).Close()
}

func (r *Repository) InsertPlayerActivities(ctx context.Context, activities []PlayerActivity) error {
	if len(activities) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queuePlayerActivities(batch, activities)
	return r.Store.Pool.SendBatch(ctx, batch).Close()
}

func (r *Repository) InsertEventMetrics(ctx context.Context, events []EventMetric) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queueEventMetrics(batch, events)
	return r.Store.Pool.SendBatch(ctx, batch).Close()
}

// InsertRecords writes one cycle's rows in a single transaction.
func (r *Repository) InsertRecords(ctx context.Context, records Records) error {
	if records.Empty() {
		return nil
	}
	return pgx.BeginFunc(ctx, r.Store.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		queueGameplayMetrics(batch, records.Metrics)
		queuePlayerActivities(batch, records.Activities)
		queueEventMetrics(batch, records.Events)
		return tx.SendBatch(ctx, batch).Close()
	})
}

func queueGameplayMetrics(batch *pgx.Batch, metrics []GameplayMetric) {
	for _, m := range metrics {
		extra := m.ExtraData
		if extra == nil {
			extra = map[string]any{}
		}
		batch.Queue(`
			INSERT INTO gameplay_metrics (ts, metric_type, metric_name, value, player_id, clan_id, extra_data)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			m.Timestamp, m.MetricType, m.MetricName, m.Value, m.PlayerID, m.ClanID, extra,
		)
	}
}

func queuePlayerActivities(batch *pgx.Batch, activities []PlayerActivity) {
	for _, a := range activities {
		batch.Queue(`
			INSERT INTO player_activity (ts, player_id, dwelling_level, active_nomads, gold_amount, spice_amount, actions_count, exploration_radius)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			a.Timestamp, a.PlayerID, a.DwellingLevel, a.ActiveNomads, a.GoldAmount, a.SpiceAmount, a.ActionsCount, a.ExplorationRadius,
		)
	}
}

func queueEventMetrics(batch *pgx.Batch, events []EventMetric) {
	for _, e := range events {
		extra := e.ExtraData
		if extra == nil {
			extra = map[string]any{}
		}
		batch.Queue(`
			INSERT INTO event_metrics (ts, event_type, affected_players, impact_score, extra_data)
			VALUES ($1,$2,$3,$4,$5)`,
			e.Timestamp, e.EventType, e.AffectedPlayers, e.ImpactScore, extra,
		)
	}
}

// CountMetrics counts gameplay metrics in [since, until]. An empty
// metricType counts every type.
func (r *Repository) CountMetrics(ctx context.Context, since, until time.Time, metricType string) (int, error) {
	var count int
	err := r.Store.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM gameplay_metrics
		WHERE ts >= $1 AND ts <= $2 AND ($3 = '' OR metric_type = $3)`,
		since, until, metricType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count metrics: %w", err)
	}
	return count, nil
}

// HasSeededRows reports whether demo history rows are stored.
func (r *Repository) HasSeededRows(ctx context.Context) (bool, error) {
	var exists bool
	err := r.Store.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM gameplay_metrics WHERE extra_data->>'seeded' = 'true'
		)`,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check seeded rows: %w", err)
	}
	return exists, nil
}

func (r *Repository) CountFailedMetrics(ctx context.Context, since, until time.Time) (int, error) {
	var count int
	err := r.Store.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM gameplay_metrics
		WHERE ts >= $1 AND ts <= $2 AND extra_data->>'status' = $3`,
		since, until, StatusFailed,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed metrics: %w", err)
	}
	return count, nil
}

func (r *Repository) CountActivePlayers(ctx context.Context, since, until time.Time) (int, error) {
	var count int
	err := r.Store.Pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT player_id) FROM player_activity
		WHERE ts >= $1 AND ts <= $2`,
		since, until,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active players: %w", err)
	}
	return count, nil
}

// TopPlayers sums actions per player since the given time and returns the
// most active first, with each player's latest dwelling and resources.
func (r *Repository) TopPlayers(ctx context.Context, since time.Time, limit int) ([]PlayerActivity, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT player_id,
			MAX(ts),
			SUM(actions_count)::int,
			(array_agg(dwelling_level ORDER BY ts DESC))[1],
			(array_agg(active_nomads ORDER BY ts DESC))[1],
			(array_agg(gold_amount ORDER BY ts DESC))[1],
			(array_agg(spice_amount ORDER BY ts DESC))[1]
		FROM player_activity
		WHERE ts >= $1
		GROUP BY player_id
		ORDER BY 3 DESC, player_id ASC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top players: %w", err)
	}
	defer rows.Close()
	results := []PlayerActivity{}
	for rows.Next() {
		var rec PlayerActivity
		if err := rows.Scan(&rec.PlayerID, &rec.Timestamp, &rec.ActionsCount, &rec.DwellingLevel, &rec.ActiveNomads, &rec.GoldAmount, &rec.SpiceAmount); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// PlayerActionCounts sums successful nomad actions named metricName per
// player over [since, until].
func (r *Repository) PlayerActionCounts(ctx context.Context, metricName string, since, until time.Time) (map[string]float64, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT player_id, SUM(value)
		FROM gameplay_metrics
		WHERE metric_type = $1 AND metric_name = $2 AND player_id IS NOT NULL
			AND ts >= $3 AND ts <= $4
			AND extra_data->>'status' IS DISTINCT FROM $5
		GROUP BY player_id`,
		MetricTypeNomadAction, metricName, since, until, StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("player action counts: %w", err)
	}
	defer rows.Close()
	counts := map[string]float64{}
	for rows.Next() {
		var player string
		var total float64
		if err := rows.Scan(&player, &total); err != nil {
			return nil, err
		}
		counts[player] = total
	}
	return counts, rows.Err()
}
