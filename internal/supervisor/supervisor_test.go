package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type fakeServer struct {
	listenErr error
	started   chan struct{}
	stop      chan struct{}
	shutdowns atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	f.started <- struct{}{}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	f.shutdowns.Add(1)
	close(f.stop)
	return nil
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	server := newFakeServer()
	svc := NewHTTPService(server, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	<-server.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if server.shutdowns.Load() != 1 {
		t.Fatalf("expected one shutdown, got %d", server.shutdowns.Load())
	}
	if svc.String() != "http-server" {
		t.Fatalf("unexpected name %q", svc.String())
	}
}

func TestHTTPServiceReportsListenError(t *testing.T) {
	server := newFakeServer()
	server.listenErr = errors.New("address in use")
	err := NewHTTPService(server, 0).Serve(context.Background())
	if err == nil || !errors.Is(err, server.listenErr) {
		t.Fatalf("expected wrapped listen error, got %v", err)
	}
}

type countingService struct {
	runs atomic.Int32
}

func (c *countingService) Serve(ctx context.Context) error {
	c.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (c *countingService) String() string { return "counting" }

func TestTreeRunsBothLayers(t *testing.T) {
	tree := NewTree(slog.New(slog.NewTextHandler(io.Discard, nil)), TreeConfig{ShutdownTimeout: time.Second})
	collection := &countingService{}
	api := &countingService{}
	tree.AddCollectionService(collection)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for collection.runs.Load() == 0 || api.runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("services not started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("tree did not stop")
	}
}
