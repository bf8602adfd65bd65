package collector

import (
	"maps"
	"time"

	"github.com/goccy/go-json"
)

// Snapshot is the immutable result of one collection cycle. It always holds
// exactly one result and one summary per known category.
type Snapshot struct {
	id        string
	timestamp time.Time
	results   map[Category]Result
	summaries map[Category]Summary
}

// NewSnapshot assembles a snapshot from per-category results. Categories
// without a result are recorded as unknown failures.
func NewSnapshot(id string, ts time.Time, results map[Category]Result) *Snapshot {
	snap := &Snapshot{
		id:        id,
		timestamp: ts,
		results:   make(map[Category]Result, len(Categories)),
		summaries: make(map[Category]Summary, len(Categories)),
	}
	for _, category := range Categories {
		result, ok := results[category]
		if !ok || result == nil {
			result = Failure{Kind: KindUnknown, Message: "no result collected"}
		}
		if success, ok := result.(Success); ok {
			result = Success{Payload: maps.Clone(success.Payload)}
		}
		snap.results[category] = result
		snap.summaries[category] = Aggregate(category, result)
	}
	return snap
}

// FailedSnapshot builds a snapshot in which every category failed with the
// same kind and message.
func FailedSnapshot(id string, ts time.Time, kind FailureKind, message string) *Snapshot {
	results := make(map[Category]Result, len(Categories))
	for _, category := range Categories {
		results[category] = Failure{Kind: kind, Message: message}
	}
	return NewSnapshot(id, ts, results)
}

func (s *Snapshot) ID() string           { return s.id }
func (s *Snapshot) Timestamp() time.Time { return s.timestamp }

func (s *Snapshot) Result(category Category) Result {
	return s.results[category]
}

// Failed lists the categories whose fetch failed, in reporting order.
func (s *Snapshot) Failed() []Category {
	failed := []Category{}
	for _, category := range Categories {
		if _, ok := s.results[category].(Failure); ok {
			failed = append(failed, category)
		}
	}
	return failed
}

func (s *Snapshot) Summary(category Category) Summary {
	switch summary := s.summaries[category].(type) {
	case NomadSummary:
		return summary.clone()
	case ResourceSummary:
		return summary.clone()
	case DwellingSummary:
		return summary.clone()
	case EventSummary:
		return summary.clone()
	default:
		return summary
	}
}

func (s *Snapshot) Nomads() NomadSummary       { return s.Summary(CategoryNomads).(NomadSummary) }
func (s *Snapshot) Resources() ResourceSummary { return s.Summary(CategoryResources).(ResourceSummary) }
func (s *Snapshot) Dwellings() DwellingSummary { return s.Summary(CategoryDwellings).(DwellingSummary) }
func (s *Snapshot) PvP() PvPSummary            { return s.Summary(CategoryPvP).(PvPSummary) }
func (s *Snapshot) Events() EventSummary       { return s.Summary(CategoryEvents).(EventSummary) }

// Payload returns a copy of the raw payload for a successful category.
func (s *Snapshot) Payload(category Category) (Payload, bool) {
	success, ok := s.results[category].(Success)
	if !ok {
		return nil, false
	}
	return maps.Clone(success.Payload), true
}

// CategoryView is the JSON rendering of one category slot.
type CategoryView struct {
	Status  string      `json:"status"`
	Kind    FailureKind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
	Summary Summary     `json:"summary,omitempty"`
}

func (s *Snapshot) View(category Category) CategoryView {
	switch result := s.results[category].(type) {
	case Success:
		return CategoryView{Status: "success", Summary: s.Summary(category)}
	case Failure:
		return CategoryView{Status: "error", Kind: result.Kind, Message: result.Message}
	default:
		return CategoryView{Status: "error", Kind: KindUnknown, Message: "no result collected"}
	}
}

type snapshotJSON struct {
	ID         string                    `json:"id"`
	Timestamp  time.Time                 `json:"collection_timestamp"`
	Categories map[Category]CategoryView `json:"categories"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		ID:         s.id,
		Timestamp:  s.timestamp,
		Categories: make(map[Category]CategoryView, len(Categories)),
	}
	for _, category := range Categories {
		out.Categories[category] = s.View(category)
	}
	return json.Marshal(out)
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
