package analyzer

import (
	"errors"
	"time"
)

// ErrDetection marks a detection pass that could not read its history.
var ErrDetection = errors.New("detection failed")

type AlertType string

const (
	AlertLowActivity     AlertType = "low_activity"
	AlertHighFailureRate AlertType = "high_failure_rate"
	AlertResourceWarning AlertType = "resource_warning"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Type          AlertType `json:"type"`
	Severity      Severity  `json:"severity"`
	Message       string    `json:"message"`
	ObservedValue float64   `json:"value"`
	Threshold     float64   `json:"threshold"`
	Timestamp     time.Time `json:"timestamp"`
}

type Behavior string

const (
	BehaviorMoves         Behavior = "moves"
	BehaviorNomadsCreated Behavior = "nomads_created"
)

// Behaviors are analysed independently, one report each.
var Behaviors = []Behavior{BehaviorMoves, BehaviorNomadsCreated}

type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// PeriodEnding returns the window of days days that ends at end.
func PeriodEnding(end time.Time, days int) Period {
	if days <= 0 {
		days = 1
	}
	return Period{Start: end.AddDate(0, 0, -days), End: end, Days: days}
}

// SuspectReport lists players whose rate for one behavior is a statistical
// outlier. SuspectIDs is ordered by descending rate.
type SuspectReport struct {
	Behavior      Behavior  `json:"behavior"`
	SuspectIDs    []string  `json:"suspect_ids"`
	GlobalAverage float64   `json:"global_average"`
	Period        Period    `json:"period"`
	Timestamp     time.Time `json:"timestamp"`
}

type Thresholds struct {
	LowActivity     int
	HighFailureRate float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{LowActivity: 10, HighFailureRate: 0.15}
}
