package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"watchtower/internal/collector"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 30 * time.Second

	maxBodyBytes = 10 << 20
)

type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	Endpoints        map[collector.Category]string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// listKeys names the payload key a bare JSON array is wrapped under.
var listKeys = map[collector.Category]string{
	collector.CategoryNomads:    "nomads",
	collector.CategoryResources: "players",
	collector.CategoryDwellings: "dwellings",
	collector.CategoryPvP:       "combats",
	collector.CategoryEvents:    "events",
}

// HTTPSource fetches categories from the game API. One client and one
// circuit breaker are shared by every category and every cycle.
type HTTPSource struct {
	baseURL   string
	apiKey    string
	endpoints map[collector.Category]string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[collector.Payload]
	logger    *slog.Logger
	closeOnce sync.Once
}

func NewHTTPSource(cfg Config, logger *slog.Logger) (*HTTPSource, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("api base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPSource{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		endpoints: endpoints,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
	threshold := cfg.FailureThreshold
	s.breaker = gobreaker.NewCircuitBreaker[collector.Payload](gobreaker.Settings{
		Name:        "game-api",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client errors mean the backend answered; only outages trip the breaker.
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return s, nil
}

// Sources registers this source for every category it has an endpoint for.
func (s *HTTPSource) Sources() map[collector.Category]collector.Source {
	sources := make(map[collector.Category]collector.Source, len(s.endpoints))
	for category := range s.endpoints {
		sources[category] = s
	}
	return sources
}

// StatusError is a non-2xx answer from the game API.
type StatusError struct {
	Code     int
	Endpoint string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.Code)
}

func (s *HTTPSource) Fetch(ctx context.Context, category collector.Category) collector.Result {
	endpoint, ok := s.endpoints[category]
	if !ok {
		return collector.Failure{Kind: collector.KindUnknown, Message: fmt.Sprintf("no endpoint for %s", category)}
	}
	payload, err := s.breaker.Execute(func() (collector.Payload, error) {
		return s.get(ctx, category, endpoint)
	})
	if err != nil {
		failure := Classify(err)
		s.logger.Warn("game api request failed",
			slog.String("category", string(category)),
			slog.String("endpoint", endpoint),
			slog.String("kind", string(failure.Kind)),
			slog.String("error", err.Error()),
		)
		return failure
	}
	return collector.Success{Payload: payload}
}

func (s *HTTPSource) get(ctx context.Context, category collector.Category, endpoint string) (collector.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{Code: resp.StatusCode, Endpoint: endpoint}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return decodePayload(category, body)
}

func decodePayload(category collector.Category, body []byte) (collector.Payload, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch v := raw.(type) {
	case map[string]any:
		return collector.Payload(v), nil
	case []any:
		return collector.Payload{listKeys[category]: v}, nil
	default:
		return nil, fmt.Errorf("decode response: unexpected %T", raw)
	}
}

// Classify maps a request error onto the failure taxonomy.
func Classify(err error) collector.Failure {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		switch {
		case statusErr.Code == http.StatusNotFound:
			return collector.Failure{Kind: collector.KindNotFound, Message: err.Error()}
		case statusErr.Code == http.StatusUnauthorized:
			return collector.Failure{Kind: collector.KindUnauthorized, Message: err.Error()}
		case statusErr.Code >= http.StatusInternalServerError:
			return collector.Failure{Kind: collector.KindServerError, Message: err.Error()}
		}
		return collector.Failure{Kind: collector.KindUnknown, Message: err.Error()}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return collector.Failure{Kind: collector.KindNetworkError, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return collector.Failure{Kind: collector.KindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return collector.Failure{Kind: collector.KindTimeout, Message: err.Error()}
		}
		return collector.Failure{Kind: collector.KindNetworkError, Message: err.Error()}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return collector.Failure{Kind: collector.KindNetworkError, Message: err.Error()}
	}
	return collector.Failure{Kind: collector.KindUnknown, Message: err.Error()}
}

// Close drops idle connections. It is safe to call more than once.
func (s *HTTPSource) Close() error {
	s.closeOnce.Do(s.client.CloseIdleConnections)
	return nil
}
