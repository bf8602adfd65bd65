package telemetry

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter receives the observations the pipeline produces. It is passed to
// components at construction; nothing in the pipeline uses a global registry.
type Exporter interface {
	ObserveLatency(category string, d time.Duration)
	IncError(category, kind string)
	SetDwellingLevel(playerID string, level float64)
	SetActiveNomads(playerID string, count float64)
	AddNomadActions(actionType string, n int)
	AddResources(resourceType string, amount float64)
	AddPvPActions(n int)
	AddEvents(eventType string, n int)
	IncCycle(outcome string)
	IncCycleSkipped()
	IncAlert(alertType, severity string)
	IncSuspectReport(behavior string)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveLatency(string, time.Duration) {}
func (Nop) IncError(string, string)              {}
func (Nop) SetDwellingLevel(string, float64)     {}
func (Nop) SetActiveNomads(string, float64)      {}
func (Nop) AddNomadActions(string, int)          {}
func (Nop) AddResources(string, float64)         {}
func (Nop) AddPvPActions(int)                    {}
func (Nop) AddEvents(string, int)                {}
func (Nop) IncCycle(string)                      {}
func (Nop) IncCycleSkipped()                     {}
func (Nop) IncAlert(string, string)              {}
func (Nop) IncSuspectReport(string)              {}

// Prometheus is an Exporter backed by its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	APIResponseTime *prometheus.HistogramVec
	APIErrors       *prometheus.CounterVec
	DwellingLevels  *prometheus.GaugeVec
	ActiveNomads    *prometheus.GaugeVec
	NomadActions    *prometheus.CounterVec
	Resources       *prometheus.CounterVec
	PvPActions      prometheus.Counter
	EventTriggers   *prometheus.CounterVec
	Cycles          *prometheus.CounterVec
	CyclesSkipped   prometheus.Counter
	Alerts          *prometheus.CounterVec
	SuspectReports  *prometheus.CounterVec
}

// NewPrometheus builds an exporter on a fresh registry. When withRuntime is
// set, the Go runtime and process collectors are registered too.
func NewPrometheus(withRuntime bool) *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		APIResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccc_api_response_seconds",
			Help:    "Game API response time in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"category"}),
		APIErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccc_api_errors_total",
			Help: "Total game API errors by category and failure kind",
		}, []string{"category", "error_type"}),
		DwellingLevels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ccc_dwelling_levels",
			Help: "Current dwelling level per player",
		}, []string{"player_id"}),
		ActiveNomads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ccc_active_nomads",
			Help: "Number of active nomads per player",
		}, []string{"player_id"}),
		NomadActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccc_nomad_actions_total",
			Help: "Total number of nomad actions observed",
		}, []string{"action_type"}),
		Resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccc_resources_collected_total",
			Help: "Total resources observed",
		}, []string{"resource_type"}),
		PvPActions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccc_pvp_actions_total",
			Help: "Total PvP actions observed",
		}),
		EventTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccc_events_triggered_total",
			Help: "Total game events observed",
		}, []string{"event_type"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_cycles_total",
			Help: "Collection cycles run, by outcome",
		}, []string{"outcome"}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_cycles_skipped_total",
			Help: "Scheduled ticks skipped because a cycle was still running",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_alerts_total",
			Help: "Alerts raised by the anomaly detector",
		}, []string{"type", "severity"}),
		SuspectReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_suspect_reports_total",
			Help: "Suspect reports published, by behavior",
		}, []string{"behavior"}),
	}
	reg.MustRegister(
		p.APIResponseTime,
		p.APIErrors,
		p.DwellingLevels,
		p.ActiveNomads,
		p.NomadActions,
		p.Resources,
		p.PvPActions,
		p.EventTriggers,
		p.Cycles,
		p.CyclesSkipped,
		p.Alerts,
		p.SuspectReports,
	)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return p
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves this exporter's registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// label makes an upstream string safe to use as a label value. Prometheus
// rejects invalid UTF-8 with a panic.
func label(v string) string {
	return strings.ToValidUTF8(v, "\uFFFD")
}

func (p *Prometheus) ObserveLatency(category string, d time.Duration) {
	p.APIResponseTime.WithLabelValues(label(category)).Observe(d.Seconds())
}

func (p *Prometheus) IncError(category, kind string) {
	p.APIErrors.WithLabelValues(label(category), label(kind)).Inc()
}

func (p *Prometheus) SetDwellingLevel(playerID string, level float64) {
	p.DwellingLevels.WithLabelValues(label(playerID)).Set(level)
}

func (p *Prometheus) SetActiveNomads(playerID string, count float64) {
	p.ActiveNomads.WithLabelValues(label(playerID)).Set(count)
}

func (p *Prometheus) AddNomadActions(actionType string, n int) {
	if n > 0 {
		p.NomadActions.WithLabelValues(label(actionType)).Add(float64(n))
	}
}

func (p *Prometheus) AddResources(resourceType string, amount float64) {
	if amount > 0 {
		p.Resources.WithLabelValues(label(resourceType)).Add(amount)
	}
}

func (p *Prometheus) AddPvPActions(n int) {
	if n > 0 {
		p.PvPActions.Add(float64(n))
	}
}

func (p *Prometheus) AddEvents(eventType string, n int) {
	if n > 0 {
		p.EventTriggers.WithLabelValues(label(eventType)).Add(float64(n))
	}
}

func (p *Prometheus) IncCycle(outcome string) {
	p.Cycles.WithLabelValues(label(outcome)).Inc()
}

func (p *Prometheus) IncCycleSkipped() {
	p.CyclesSkipped.Inc()
}

func (p *Prometheus) IncAlert(alertType, severity string) {
	p.Alerts.WithLabelValues(label(alertType), label(severity)).Inc()
}

func (p *Prometheus) IncSuspectReport(behavior string) {
	p.SuspectReports.WithLabelValues(label(behavior)).Inc()
}
