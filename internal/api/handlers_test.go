package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"watchtower/internal/analyzer"
	"watchtower/internal/collector"
	"watchtower/internal/scheduler"
	"watchtower/internal/storage"
	"watchtower/internal/telemetry"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCycles struct {
	latest  *collector.Snapshot
	alerts  []analyzer.Alert
	err     error
	running bool
	calls   int
}

func (f *fakeCycles) Trigger(ctx context.Context) (*collector.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.latest, nil
}

func (f *fakeCycles) Latest() *collector.Snapshot    { return f.latest }
func (f *fakeCycles) LatestAlerts() []analyzer.Alert { return f.alerts }
func (f *fakeCycles) Running() bool                  { return f.running }

type fakeStats struct {
	window time.Duration
	err    error
}

func (f *fakeStats) Engagement(ctx context.Context, window time.Duration, now time.Time) (analyzer.Engagement, error) {
	f.window = window
	if f.err != nil {
		return analyzer.Engagement{}, f.err
	}
	return analyzer.Engagement{ActivePlayers: 4, TotalActions: 10, AvgActionsPerPlayer: 2.5, WindowSeconds: int(window.Seconds())}, nil
}

func (f *fakeStats) TopPlayers(ctx context.Context, limit int, now time.Time) ([]analyzer.PlayerRank, error) {
	return []analyzer.PlayerRank{{PlayerID: "p1", Actions: 7}}, nil
}

type fakeAverages struct{}

func (fakeAverages) Averages(ctx context.Context, now time.Time) (analyzer.AverageSummary, error) {
	return analyzer.AverageSummary{AverageMovesPerUser: 1.33, Timestamp: now}, nil
}

type fakeReader struct {
	data []byte
	err  error
}

func (f fakeReader) Latest(ctx context.Context) ([]byte, error) {
	return f.data, f.err
}

func sampleSnapshot() *collector.Snapshot {
	return collector.NewSnapshot("snap-1", fixedNow, map[collector.Category]collector.Result{
		collector.CategoryNomads: collector.Success{Payload: collector.Payload{
			"nomads": []any{map[string]any{"player_id": "p1", "last_action": "move"}},
		}},
		collector.CategoryPvP: collector.Failure{Kind: collector.KindTimeout, Message: "slow"},
	})
}

func newTestRouter(h *Handler) http.Handler {
	if h.Logger == nil {
		h.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h.Now = func() time.Time { return fixedNow }
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, router http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestRootAndHealth(t *testing.T) {
	router := newTestRouter(&Handler{Cycles: &fakeCycles{latest: sampleSnapshot(), running: true}})

	rec := do(t, router, http.MethodGet, "/")
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "running" {
		t.Fatalf("unexpected root response: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodGet, "/health")
	body := decode(t, rec)
	if body["status"] != "healthy" || body["collecting"] != true {
		t.Fatalf("unexpected health: %#v", body)
	}
	if _, ok := body["last_collection"]; !ok {
		t.Fatalf("expected last_collection in health response")
	}
}

func TestCurrentMetricsFromScheduler(t *testing.T) {
	router := newTestRouter(&Handler{Cycles: &fakeCycles{latest: sampleSnapshot()}})
	rec := do(t, router, http.MethodGet, "/api/metrics/current")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	categories, ok := body["categories"].(map[string]any)
	if !ok || len(categories) != len(collector.Categories) {
		t.Fatalf("expected every category rendered, got %#v", body["categories"])
	}
	pvp := categories["pvp"].(map[string]any)
	if pvp["status"] != "error" || pvp["kind"] != string(collector.KindTimeout) {
		t.Fatalf("unexpected pvp view: %#v", pvp)
	}
}

func TestCurrentMetricsFallsBackToCache(t *testing.T) {
	data, err := json.Marshal(sampleSnapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	router := newTestRouter(&Handler{Cycles: &fakeCycles{}, Cache: fakeReader{data: data}})
	rec := do(t, router, http.MethodGet, "/api/metrics/current")
	if rec.Code != http.StatusOK || decode(t, rec)["id"] != "snap-1" {
		t.Fatalf("expected cached snapshot, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/metrics/nomads")
	body := decode(t, rec)
	if rec.Code != http.StatusOK || body["category"] != "nomads" {
		t.Fatalf("expected cached category view, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCurrentMetricsNotFound(t *testing.T) {
	router := newTestRouter(&Handler{Cycles: &fakeCycles{}, Cache: fakeReader{err: storage.ErrNotFound}})
	if rec := do(t, router, http.MethodGet, "/api/metrics/current"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	router = newTestRouter(&Handler{Cache: fakeReader{err: errors.New("redis down")}})
	if rec := do(t, router, http.MethodGet, "/api/metrics/current"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCategoryMetrics(t *testing.T) {
	router := newTestRouter(&Handler{Cycles: &fakeCycles{latest: sampleSnapshot()}})

	rec := do(t, router, http.MethodGet, "/api/metrics/nomads")
	body := decode(t, rec)
	data := body["data"].(map[string]any)
	if rec.Code != http.StatusOK || data["status"] != "success" {
		t.Fatalf("unexpected nomads view: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, router, http.MethodGet, "/api/metrics/weather"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d", rec.Code)
	}
}

func TestCollectStatusCodes(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"ok":       {nil, http.StatusOK},
		"busy":     {scheduler.ErrCycleInProgress, http.StatusConflict},
		"stopped":  {scheduler.ErrSchedulerStopped, http.StatusServiceUnavailable},
		"internal": {errors.New("boom"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		cycles := &fakeCycles{latest: sampleSnapshot(), err: tc.err}
		router := newTestRouter(&Handler{Cycles: cycles, TriggerPerMinute: 100})
		rec := do(t, router, http.MethodPost, "/api/metrics/collect")
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", name, tc.status, rec.Code)
		}
		if tc.err == nil && decode(t, rec)["status"] != scheduler.OutcomePartial {
			t.Fatalf("%s: expected partial outcome, got %s", name, rec.Body.String())
		}
	}
}

func TestCollectIsRateLimited(t *testing.T) {
	cycles := &fakeCycles{latest: sampleSnapshot()}
	router := newTestRouter(&Handler{Cycles: cycles, TriggerPerMinute: 2})
	for i := 0; i < 2; i++ {
		if rec := do(t, router, http.MethodPost, "/api/metrics/collect"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := do(t, router, http.MethodPost, "/api/metrics/collect"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if cycles.calls != 2 {
		t.Fatalf("expected limited request not to trigger, got %d calls", cycles.calls)
	}
}

func TestDashboardStats(t *testing.T) {
	stats := &fakeStats{}
	router := newTestRouter(&Handler{Stats: stats})

	rec := do(t, router, http.MethodGet, "/api/dashboard/stats?time_window=7200")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if stats.window != 2*time.Hour {
		t.Fatalf("expected 2h window, got %v", stats.window)
	}
	body := decode(t, rec)
	if top := body["top_players"].([]any); len(top) != 1 {
		t.Fatalf("unexpected top players: %#v", top)
	}

	do(t, router, http.MethodGet, "/api/dashboard/stats")
	if stats.window != time.Hour {
		t.Fatalf("expected default window, got %v", stats.window)
	}
	for _, bad := range []string{"abc", "-5", "0", "99999999"} {
		if rec := do(t, router, http.MethodGet, "/api/dashboard/stats?time_window="+bad); rec.Code != http.StatusBadRequest {
			t.Fatalf("time_window=%s: expected 400, got %d", bad, rec.Code)
		}
	}

	router = newTestRouter(&Handler{Stats: &fakeStats{err: analyzer.ErrDetection}})
	if rec := do(t, router, http.MethodGet, "/api/dashboard/stats"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestAlertsIncludeThresholds(t *testing.T) {
	alert := analyzer.Alert{Type: analyzer.AlertLowActivity, Severity: analyzer.SeverityWarning, ObservedValue: 3, Threshold: 10}
	router := newTestRouter(&Handler{
		Cycles:     &fakeCycles{alerts: []analyzer.Alert{alert}},
		Thresholds: Thresholds{LowActivity: 10, HighFailureRate: 0.15, ResourceWarning: 0.8},
	})
	body := decode(t, do(t, router, http.MethodGet, "/api/alerts"))
	if body["count"] != float64(1) {
		t.Fatalf("unexpected count: %#v", body["count"])
	}
	thresholds := body["thresholds"].(map[string]any)
	if thresholds["resource_warning"] != 0.8 || thresholds["low_activity"] != float64(10) {
		t.Fatalf("unexpected thresholds: %#v", thresholds)
	}

	empty := decode(t, do(t, newTestRouter(&Handler{}), http.MethodGet, "/api/alerts"))
	if alerts, ok := empty["alerts"].([]any); !ok || len(alerts) != 0 {
		t.Fatalf("expected empty alert list, got %#v", empty["alerts"])
	}
}

func TestAverages(t *testing.T) {
	router := newTestRouter(&Handler{Averages: fakeAverages{}})
	body := decode(t, do(t, router, http.MethodGet, "/api/stats/averages"))
	if body["average_moves_per_user"] != 1.33 {
		t.Fatalf("unexpected averages: %#v", body)
	}
	if rec := do(t, newTestRouter(&Handler{}), http.MethodGet, "/api/stats/averages"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without history, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	exporter := telemetry.NewPrometheus(false)
	exporter.IncCycle(scheduler.OutcomeSuccess)
	router := newTestRouter(&Handler{Metrics: exporter.Handler()})
	rec := do(t, router, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "watchtower_") {
		t.Fatalf("unexpected metrics output: %d", rec.Code)
	}
}

func TestNewRouterServesRoutes(t *testing.T) {
	h := &Handler{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	router := NewRouter(h, time.Second)
	if rec := do(t, router, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
