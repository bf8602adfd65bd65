package storage

import "time"

const (
	MetricTypeNomadAction = "nomad_action"
	MetricTypeResource    = "resource"
	MetricTypeEvent       = "event"
	MetricTypePvP         = "pvp"
	// MetricTypeCollection rows record a category that could not be collected.
	MetricTypeCollection = "collection"
)

// Outcome values stored under extra_data.status.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Combat outcomes stored under extra_data.result. A lost combat is a game
// outcome, not a collection failure.
const (
	ResultWon  = "won"
	ResultLost = "lost"
)

type GameplayMetric struct {
	ID         int64
	Timestamp  time.Time
	MetricType string
	MetricName string
	Value      float64
	PlayerID   *string
	ClanID     *string
	ExtraData  map[string]any
}

type PlayerActivity struct {
	ID                int64
	Timestamp         time.Time
	PlayerID          string
	DwellingLevel     int
	ActiveNomads      int
	GoldAmount        float64
	SpiceAmount       float64
	ActionsCount      int
	ExplorationRadius float64
}

type EventMetric struct {
	ID              int64
	Timestamp       time.Time
	EventType       string
	AffectedPlayers int
	ImpactScore     float64
	ExtraData       map[string]any
}

// Records is everything persisted for one collection cycle.
type Records struct {
	Metrics    []GameplayMetric
	Activities []PlayerActivity
	Events     []EventMetric
}

func (r Records) Empty() bool {
	return len(r.Metrics) == 0 && len(r.Activities) == 0 && len(r.Events) == 0
}
