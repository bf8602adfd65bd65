package collector

import (
	"fmt"
	"maps"
	"strconv"
)

// Summary is the aggregated view of one category.
type Summary interface {
	Category() Category
}

type NomadSummary struct {
	Total    int            `json:"total_nomads"`
	ByAction map[string]int `json:"by_action"`
	ByPlayer map[string]int `json:"by_player"`
}

type PlayerResources struct {
	Gold  float64 `json:"gold"`
	Spice float64 `json:"spice"`
}

type ResourceSummary struct {
	TotalGold  float64                    `json:"total_gold"`
	TotalSpice float64                    `json:"total_spice"`
	ByPlayer   map[string]PlayerResources `json:"by_player"`
}

type DwellingSummary struct {
	Total   int         `json:"total"`
	ByLevel map[int]int `json:"by_level"`
}

type PvPSummary struct {
	TotalAttacks      int `json:"total_attacks"`
	SuccessfulAttacks int `json:"successful_attacks"`
}

type EventTypeStats struct {
	Count           int `json:"count"`
	AffectedPlayers int `json:"affected_players"`
}

type EventSummary struct {
	Total  int                       `json:"total"`
	ByType map[string]EventTypeStats `json:"by_type"`
}

func (NomadSummary) Category() Category    { return CategoryNomads }
func (ResourceSummary) Category() Category { return CategoryResources }
func (DwellingSummary) Category() Category { return CategoryDwellings }
func (PvPSummary) Category() Category      { return CategoryPvP }
func (EventSummary) Category() Category    { return CategoryEvents }

// SuccessRate is successes/attempts, 0 when there were no attempts.
func (s PvPSummary) SuccessRate() float64 {
	if s.TotalAttacks == 0 {
		return 0
	}
	return float64(s.SuccessfulAttacks) / float64(s.TotalAttacks)
}

func (s PvPSummary) MarshalJSON() ([]byte, error) {
	type alias PvPSummary
	return marshalJSON(struct {
		alias
		SuccessRate float64 `json:"success_rate"`
	}{alias(s), s.SuccessRate()})
}

func (s NomadSummary) clone() NomadSummary {
	s.ByAction = maps.Clone(s.ByAction)
	s.ByPlayer = maps.Clone(s.ByPlayer)
	return s
}

func (s ResourceSummary) clone() ResourceSummary {
	s.ByPlayer = maps.Clone(s.ByPlayer)
	return s
}

func (s DwellingSummary) clone() DwellingSummary {
	s.ByLevel = maps.Clone(s.ByLevel)
	return s
}

func (s EventSummary) clone() EventSummary {
	s.ByType = maps.Clone(s.ByType)
	return s
}

// AggregationError reports a category the aggregator has no reduction for.
// It is raised as a panic: it can only come from a programming error.
type AggregationError struct {
	Category Category
}

func (e AggregationError) Error() string {
	return fmt.Sprintf("no aggregation for category %q", e.Category)
}

// EmptySummary returns the zero summary for a category.
func EmptySummary(category Category) Summary {
	switch category {
	case CategoryNomads:
		return NomadSummary{ByAction: map[string]int{}, ByPlayer: map[string]int{}}
	case CategoryResources:
		return ResourceSummary{ByPlayer: map[string]PlayerResources{}}
	case CategoryDwellings:
		return DwellingSummary{ByLevel: map[int]int{1: 0, 2: 0, 3: 0, 4: 0}}
	case CategoryPvP:
		return PvPSummary{}
	case CategoryEvents:
		return EventSummary{ByType: map[string]EventTypeStats{}}
	default:
		panic(AggregationError{Category: category})
	}
}

// Aggregate folds a category result into its summary. A Failure contributes
// nothing and yields the empty summary.
func Aggregate(category Category, result Result) Summary {
	summary := EmptySummary(category)
	success, ok := result.(Success)
	if !ok {
		return summary
	}
	payload := success.Payload
	switch s := summary.(type) {
	case NomadSummary:
		return aggregateNomads(s, payload)
	case ResourceSummary:
		return aggregateResources(s, payload)
	case DwellingSummary:
		return aggregateDwellings(s, payload)
	case PvPSummary:
		return aggregatePvP(s, payload)
	case EventSummary:
		return aggregateEvents(s, payload)
	}
	panic(AggregationError{Category: category})
}

func aggregateNomads(s NomadSummary, payload Payload) NomadSummary {
	for _, nomad := range items(payload, "nomads") {
		s.Total++
		action := firstString(nomad, "last_action", "action_type")
		if action != "" {
			s.ByAction[action]++
		}
		if player := stringField(nomad, "player_id"); player != "" {
			s.ByPlayer[player]++
		}
	}
	return s
}

func aggregateResources(s ResourceSummary, payload Payload) ResourceSummary {
	for _, player := range items(payload, "players") {
		gold := floatField(player, "gold")
		spice := floatField(player, "spice")
		s.TotalGold += gold
		s.TotalSpice += spice
		id := stringField(player, "player_id")
		if id == "" {
			continue
		}
		current := s.ByPlayer[id]
		current.Gold += gold
		current.Spice += spice
		s.ByPlayer[id] = current
	}
	return s
}

func aggregateDwellings(s DwellingSummary, payload Payload) DwellingSummary {
	for _, dwelling := range items(payload, "dwellings") {
		level := 1
		if v, ok := dwelling["level"]; ok {
			if f, err := toFloat(v); err == nil {
				level = int(f)
			}
		}
		s.ByLevel[level]++
		s.Total++
	}
	return s
}

func aggregatePvP(s PvPSummary, payload Payload) PvPSummary {
	combats := items(payload, "combats")
	if len(combats) == 0 {
		combats = items(payload, "pvp_actions")
	}
	for _, combat := range combats {
		s.TotalAttacks++
		if success, ok := combat["success"].(bool); ok && success {
			s.SuccessfulAttacks++
		}
	}
	return s
}

func aggregateEvents(s EventSummary, payload Payload) EventSummary {
	for _, event := range items(payload, "events") {
		eventType := stringField(event, "type")
		if eventType == "" {
			eventType = "unknown"
		}
		stats := s.ByType[eventType]
		stats.Count++
		stats.AffectedPlayers += int(floatField(event, "affected_players"))
		s.ByType[eventType] = stats
		s.Total++
	}
	return s
}

// Items returns the objects listed under key, skipping non-object entries.
func Items(payload Payload, key string) []map[string]any {
	return items(payload, key)
}

// StringField reads key as a string, formatting numbers; empty when absent.
func StringField(obj map[string]any, key string) string {
	return stringField(obj, key)
}

// FloatField reads key as a number, 0 when absent or malformed.
func FloatField(obj map[string]any, key string) float64 {
	return floatField(obj, key)
}

func items(payload Payload, key string) []map[string]any {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	results := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			results = append(results, obj)
		}
	}
	return results
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringField(obj, key); v != "" {
			return v
		}
	}
	return ""
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func floatField(obj map[string]any, key string) float64 {
	f, err := toFloat(obj[key])
	if err != nil {
		return 0
	}
	return f
}

func toFloat(val any) (float64, error) {
	switch t := val.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", val)
	}
}
