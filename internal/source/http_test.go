package source

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"watchtower/internal/collector"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSource(t *testing.T, handler http.HandlerFunc, cfg Config) (*HTTPSource, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	src, err := NewHTTPSource(cfg, quietLogger())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src, srv
}

func TestFetchSuccessSendsBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"nomads":[{"player_id":"p1","last_action":"move"}]}`))
	}, Config{APIKey: "secret"})

	result := src.Fetch(context.Background(), collector.CategoryNomads)
	success, ok := result.(collector.Success)
	if !ok {
		t.Fatalf("expected success, got %#v", result)
	}
	if gotAuth != "Bearer secret" || gotPath != "/nomads" {
		t.Fatalf("unexpected request: auth=%q path=%q", gotAuth, gotPath)
	}
	if len(collector.Items(success.Payload, "nomads")) != 1 {
		t.Fatalf("unexpected payload: %#v", success.Payload)
	}
}

func TestFetchWrapsBareArrays(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"type":"raid","success":true}]`))
	}, Config{})
	success, ok := src.Fetch(context.Background(), collector.CategoryPvP).(collector.Success)
	if !ok {
		t.Fatalf("expected success")
	}
	if len(collector.Items(success.Payload, "combats")) != 1 {
		t.Fatalf("expected array wrapped under combats, got %#v", success.Payload)
	}
}

func TestFetchClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   collector.FailureKind
	}{
		{http.StatusNotFound, collector.KindNotFound},
		{http.StatusUnauthorized, collector.KindUnauthorized},
		{http.StatusBadGateway, collector.KindServerError},
		{http.StatusTeapot, collector.KindUnknown},
	}
	for _, tc := range cases {
		src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}, Config{})
		failure, ok := src.Fetch(context.Background(), collector.CategoryEvents).(collector.Failure)
		if !ok || failure.Kind != tc.kind {
			t.Fatalf("status %d: expected %s, got %#v", tc.status, tc.kind, failure)
		}
	}
}

func TestFetchMalformedBodyIsUnknown(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}, Config{})
	failure, ok := src.Fetch(context.Background(), collector.CategoryResources).(collector.Failure)
	if !ok || failure.Kind != collector.KindUnknown {
		t.Fatalf("expected unknown failure, got %#v", failure)
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Config{})
	defer close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	failure, ok := src.Fetch(ctx, collector.CategoryDwellings).(collector.Failure)
	if !ok || failure.Kind != collector.KindTimeout {
		t.Fatalf("expected timeout failure, got %#v", failure)
	}
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	src, err := NewHTTPSource(Config{BaseURL: url}, quietLogger())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	failure, ok := src.Fetch(context.Background(), collector.CategoryNomads).(collector.Failure)
	if !ok || failure.Kind != collector.KindNetworkError {
		t.Fatalf("expected network error, got %#v", failure)
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Config{FailureThreshold: 2, OpenTimeout: time.Minute})
	for i := 0; i < 2; i++ {
		src.Fetch(context.Background(), collector.CategoryNomads)
	}
	failure, ok := src.Fetch(context.Background(), collector.CategoryNomads).(collector.Failure)
	if !ok || failure.Kind != collector.KindNetworkError {
		t.Fatalf("expected open breaker failure, got %#v", failure)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected open breaker to short-circuit, got %d calls", calls.Load())
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}, Config{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		src.Fetch(context.Background(), collector.CategoryNomads)
	}
	if calls.Load() != 3 {
		t.Fatalf("client errors must not trip the breaker, got %d calls", calls.Load())
	}
}

func TestSourcesAndCloseAreIdempotent(t *testing.T) {
	src, err := NewHTTPSource(Config{BaseURL: "http://example.invalid"}, quietLogger())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	if len(src.Sources()) != len(collector.Categories) {
		t.Fatalf("expected a source per category")
	}
	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := NewHTTPSource(Config{}, nil); err == nil {
		t.Fatalf("expected error without base url")
	}
}

func TestLoadEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	if err := os.WriteFile(path, []byte("endpoints:\n  pvp: pvp/combat/stats\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	endpoints, err := LoadEndpoints(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if endpoints[collector.CategoryPvP] != "/pvp/combat/stats" || endpoints[collector.CategoryNomads] != "/nomads" {
		t.Fatalf("unexpected endpoints: %#v", endpoints)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("endpoints:\n  weather: /weather\n"), 0o600)
	if _, err := LoadEndpoints(bad); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}
