package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"watchtower/internal/analyzer"
	"watchtower/internal/collector"
	"watchtower/internal/scheduler"
	"watchtower/internal/storage"
)

const (
	defaultTimeWindow = time.Hour
	maxTimeWindow     = 30 * 24 * time.Hour
	topPlayersLimit   = 10
)

// Cycles is the scheduler as seen by the HTTP surface.
type Cycles interface {
	Trigger(ctx context.Context) (*collector.Snapshot, error)
	Latest() *collector.Snapshot
	LatestAlerts() []analyzer.Alert
	Running() bool
}

type Stats interface {
	Engagement(ctx context.Context, window time.Duration, now time.Time) (analyzer.Engagement, error)
	TopPlayers(ctx context.Context, limit int, now time.Time) ([]analyzer.PlayerRank, error)
}

type Averages interface {
	Averages(ctx context.Context, now time.Time) (analyzer.AverageSummary, error)
}

type SnapshotReader interface {
	Latest(ctx context.Context) ([]byte, error)
}

type Thresholds struct {
	LowActivity     int     `json:"low_activity"`
	HighFailureRate float64 `json:"high_failure_rate"`
	ResourceWarning float64 `json:"resource_warning"`
}

type Handler struct {
	Cycles     Cycles
	Stats      Stats
	Averages   Averages
	Cache      SnapshotReader
	Metrics    http.Handler
	Thresholds Thresholds
	Timeout    time.Duration
	// TriggerPerMinute bounds manual collections per client address.
	TriggerPerMinute int
	Logger           *slog.Logger
	Now              func() time.Time
}

// NewRouter mounts the handler behind the service middleware stack.
func NewRouter(h *Handler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics/current", h.handleCurrentMetrics)
		r.Get("/metrics/{category}", h.handleCategoryMetrics)
		r.With(h.triggerLimiter()).Post("/metrics/collect", h.handleCollect)
		r.Get("/dashboard/stats", h.handleDashboardStats)
		r.Get("/alerts", h.handleAlerts)
		r.Get("/stats/averages", h.handleAverages)
	})
}

func (h *Handler) triggerLimiter() func(http.Handler) http.Handler {
	limit := h.TriggerPerMinute
	if limit <= 0 {
		limit = 6
	}
	return httprate.LimitByIP(limit, time.Minute)
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "watchtower",
		"status":    "running",
		"timestamp": h.now(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy", "timestamp": h.now()}
	if h.Cycles != nil {
		resp["collecting"] = h.Cycles.Running()
		if snap := h.Cycles.Latest(); snap != nil {
			resp["last_collection"] = snap.Timestamp()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCurrentMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Cycles != nil {
		if snap := h.Cycles.Latest(); snap != nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	data, err := h.cachedSnapshot(r)
	if err != nil {
		h.writeSnapshotError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}

func (h *Handler) handleCategoryMetrics(w http.ResponseWriter, r *http.Request) {
	category, err := collector.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.Cycles != nil {
		if snap := h.Cycles.Latest(); snap != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"category":             category,
				"collection_timestamp": snap.Timestamp(),
				"data":                 snap.View(category),
			})
			return
		}
	}
	data, err := h.cachedSnapshot(r)
	if err != nil {
		h.writeSnapshotError(w, err)
		return
	}
	var cached struct {
		Timestamp  time.Time                  `json:"collection_timestamp"`
		Categories map[string]json.RawMessage `json:"categories"`
	}
	if err := json.Unmarshal(data, &cached); err != nil {
		writeError(w, http.StatusInternalServerError, "cached snapshot unreadable")
		return
	}
	view, ok := cached.Categories[string(category)]
	if !ok {
		writeError(w, http.StatusNotFound, "category not in cached snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category":             category,
		"collection_timestamp": cached.Timestamp,
		"data":                 view,
	})
}

func (h *Handler) cachedSnapshot(r *http.Request) ([]byte, error) {
	if h.Cache == nil {
		return nil, storage.ErrNotFound
	}
	ctx, cancel := h.context(r)
	defer cancel()
	return h.Cache.Latest(ctx)
}

func (h *Handler) writeSnapshotError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no metrics collected yet")
		return
	}
	h.logger().Error("failed to read cached snapshot", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to read metrics")
}

func (h *Handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	if h.Cycles == nil {
		writeError(w, http.StatusServiceUnavailable, "collection not configured")
		return
	}
	snap, err := h.Cycles.Trigger(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, scheduler.ErrSchedulerStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger().Error("manual collection failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "collection failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   scheduler.Outcome(snap),
		"snapshot": snap,
	})
}

func (h *Handler) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if h.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	window := defaultTimeWindow
	if raw := r.URL.Query().Get("time_window"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 || time.Duration(seconds)*time.Second > maxTimeWindow {
			writeError(w, http.StatusBadRequest, "time_window must be a positive number of seconds up to 30 days")
			return
		}
		window = time.Duration(seconds) * time.Second
	}
	ctx, cancel := h.context(r)
	defer cancel()
	now := h.now()
	engagement, err := h.Stats.Engagement(ctx, window, now)
	if err != nil {
		h.logger().Error("engagement query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute engagement")
		return
	}
	top, err := h.Stats.TopPlayers(ctx, topPlayersLimit, now)
	if err != nil {
		h.logger().Error("top players query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to rank players")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engagement":  engagement,
		"top_players": top,
		"timestamp":   now,
	})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := []analyzer.Alert{}
	if h.Cycles != nil {
		alerts = h.Cycles.LatestAlerts()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":     alerts,
		"count":      len(alerts),
		"thresholds": h.Thresholds,
		"timestamp":  h.now(),
	})
}

func (h *Handler) handleAverages(w http.ResponseWriter, r *http.Request) {
	if h.Averages == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	summary, err := h.Averages.Averages(ctx, h.now())
	if err != nil {
		h.logger().Error("averages query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute averages")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
