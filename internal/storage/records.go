package storage

import (
	"context"
	"sort"

	"watchtower/internal/collector"
)

// RecordsFromSnapshot flattens a snapshot into the rows persisted for it.
// A failed category becomes one collection row with status failed, so
// failure rates can be derived from stored history alone.
func RecordsFromSnapshot(snap *collector.Snapshot) Records {
	ts := snap.Timestamp()
	var records Records
	activity := map[string]*PlayerActivity{}
	player := func(id string) *PlayerActivity {
		a, ok := activity[id]
		if !ok {
			a = &PlayerActivity{Timestamp: ts, PlayerID: id}
			activity[id] = a
		}
		return a
	}

	for _, category := range collector.Categories {
		if failure, ok := snap.Result(category).(collector.Failure); ok {
			records.Metrics = append(records.Metrics, GameplayMetric{
				Timestamp:  ts,
				MetricType: MetricTypeCollection,
				MetricName: string(category),
				ExtraData: map[string]any{
					"status":  StatusFailed,
					"kind":    string(failure.Kind),
					"message": failure.Message,
				},
			})
		}
	}

	if payload, ok := snap.Payload(collector.CategoryNomads); ok {
		for _, nomad := range collector.Items(payload, "nomads") {
			action := collector.StringField(nomad, "last_action")
			if action == "" {
				action = collector.StringField(nomad, "action_type")
			}
			if action == "" {
				action = "unknown"
			}
			status := collector.StringField(nomad, "status")
			if status == "" {
				status = StatusSuccess
			}
			extra := map[string]any{"status": status}
			if id := collector.StringField(nomad, "id"); id != "" {
				extra["nomad_id"] = id
			}
			m := GameplayMetric{
				Timestamp:  ts,
				MetricType: MetricTypeNomadAction,
				MetricName: action,
				Value:      1,
				ExtraData:  extra,
			}
			if id := collector.StringField(nomad, "player_id"); id != "" {
				m.PlayerID = &id
				a := player(id)
				a.ActionsCount++
				a.ActiveNomads++
				if n := int(collector.FloatField(nomad, "count")); n > a.ActiveNomads {
					a.ActiveNomads = n
				}
				if r := collector.FloatField(nomad, "exploration_radius"); r > a.ExplorationRadius {
					a.ExplorationRadius = r
				}
			}
			if clan := collector.StringField(nomad, "clan_id"); clan != "" {
				m.ClanID = &clan
			}
			records.Metrics = append(records.Metrics, m)
		}
	}

	if payload, ok := snap.Payload(collector.CategoryResources); ok {
		for _, entry := range collector.Items(payload, "players") {
			id := collector.StringField(entry, "player_id")
			gold := collector.FloatField(entry, "gold")
			spice := collector.FloatField(entry, "spice")
			for _, res := range []struct {
				name  string
				value float64
			}{{"gold", gold}, {"spice", spice}} {
				m := GameplayMetric{
					Timestamp:  ts,
					MetricType: MetricTypeResource,
					MetricName: res.name,
					Value:      res.value,
					ExtraData:  map[string]any{"status": StatusSuccess},
				}
				if id != "" {
					pid := id
					m.PlayerID = &pid
				}
				records.Metrics = append(records.Metrics, m)
			}
			if id != "" {
				a := player(id)
				a.GoldAmount += gold
				a.SpiceAmount += spice
			}
		}
	}

	if payload, ok := snap.Payload(collector.CategoryDwellings); ok {
		for _, dwelling := range collector.Items(payload, "dwellings") {
			id := collector.StringField(dwelling, "player_id")
			if id == "" {
				continue
			}
			level := 1
			if _, ok := dwelling["level"]; ok {
				level = int(collector.FloatField(dwelling, "level"))
			}
			if a := player(id); level > a.DwellingLevel {
				a.DwellingLevel = level
			}
		}
	}

	if payload, ok := snap.Payload(collector.CategoryPvP); ok {
		combats := collector.Items(payload, "combats")
		if len(combats) == 0 {
			combats = collector.Items(payload, "pvp_actions")
		}
		for _, combat := range combats {
			name := collector.StringField(combat, "type")
			if name == "" {
				name = "attack"
			}
			result := ResultLost
			if success, ok := combat["success"].(bool); ok && success {
				result = ResultWon
			}
			m := GameplayMetric{
				Timestamp:  ts,
				MetricType: MetricTypePvP,
				MetricName: name,
				Value:      1,
				ExtraData:  map[string]any{"status": StatusSuccess, "result": result},
			}
			id := collector.StringField(combat, "attacker_id")
			if id == "" {
				id = collector.StringField(combat, "player_id")
			}
			if id != "" {
				m.PlayerID = &id
			}
			records.Metrics = append(records.Metrics, m)
		}
	}

	if payload, ok := snap.Payload(collector.CategoryEvents); ok {
		for _, event := range collector.Items(payload, "events") {
			eventType := collector.StringField(event, "type")
			if eventType == "" {
				eventType = "unknown"
			}
			e := EventMetric{
				Timestamp:       ts,
				EventType:       eventType,
				AffectedPlayers: int(collector.FloatField(event, "affected_players")),
				ImpactScore:     collector.FloatField(event, "impact_score"),
				ExtraData:       map[string]any{"status": StatusSuccess},
			}
			if id := collector.StringField(event, "id"); id != "" {
				e.ExtraData["event_id"] = id
			}
			records.Events = append(records.Events, e)
			records.Metrics = append(records.Metrics, GameplayMetric{
				Timestamp:  ts,
				MetricType: MetricTypeEvent,
				MetricName: eventType,
				Value:      float64(e.AffectedPlayers),
				ExtraData:  map[string]any{"status": StatusSuccess},
			})
		}
	}

	ids := make([]string, 0, len(activity))
	for id := range activity {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		records.Activities = append(records.Activities, *activity[id])
	}
	return records
}

// RecordWriter persists one cycle's rows.
type RecordWriter interface {
	InsertRecords(ctx context.Context, records Records) error
}

// Recorder turns snapshots into stored history.
type Recorder struct {
	writer RecordWriter
}

func NewRecorder(writer RecordWriter) *Recorder {
	return &Recorder{writer: writer}
}

// Record persists snap and returns the number of rows written.
func (r *Recorder) Record(ctx context.Context, snap *collector.Snapshot) (int, error) {
	records := RecordsFromSnapshot(snap)
	if err := r.writer.InsertRecords(ctx, records); err != nil {
		return 0, err
	}
	return len(records.Metrics) + len(records.Activities) + len(records.Events), nil
}
