package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	API        APIConfig        `koanf:"api"`
	Collection CollectionConfig `koanf:"collection"`
	Thresholds ThresholdConfig  `koanf:"thresholds"`
	Analysis   AnalysisConfig   `koanf:"analysis"`
	Database   DatabaseConfig   `koanf:"database"`
	NATS       NATSConfig       `koanf:"nats"`
	Redis      RedisConfig      `koanf:"redis"`
	HTTP       HTTPConfig       `koanf:"http"`
	Log        LogConfig        `koanf:"log"`
	Seed       SeedConfig       `koanf:"seed"`
}

type APIConfig struct {
	URL              string            `koanf:"url" validate:"required,url"`
	Key              string            `koanf:"key"`
	Timeout          time.Duration     `koanf:"timeout" validate:"gt=0"`
	Endpoints        map[string]string `koanf:"endpoints"`
	EndpointsFile    string            `koanf:"endpoints_file"`
	BreakerThreshold uint32            `koanf:"breaker_threshold" validate:"gte=1"`
	BreakerTimeout   time.Duration     `koanf:"breaker_timeout" validate:"gt=0"`
}

type CollectionConfig struct {
	Interval    time.Duration `koanf:"interval" validate:"gt=0"`
	CallTimeout time.Duration `koanf:"call_timeout" validate:"gt=0"`
	// PostCycleTimeout bounds cache, record, publish and detection after
	// the categories are collected.
	PostCycleTimeout time.Duration `koanf:"post_cycle_timeout" validate:"gt=0"`
}

type ThresholdConfig struct {
	LowActivity     int     `koanf:"low_activity" validate:"gte=0"`
	HighFailureRate float64 `koanf:"high_failure_rate" validate:"gte=0,lte=1"`
	ResourceWarning float64 `koanf:"resource_warning" validate:"gte=0,lte=1"`
}

type AnalysisConfig struct {
	PeriodDays    int     `koanf:"period_days" validate:"gte=1"`
	TopPercentile float64 `koanf:"top_percentile" validate:"gt=0,lte=1"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns" validate:"gte=1"`
	MinConns        int32         `koanf:"min_conns" validate:"gte=0,ltefield=MaxConns"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time" validate:"gte=0"`
	PingTimeout     time.Duration `koanf:"ping_timeout" validate:"gt=0"`
}

type NATSConfig struct {
	URL string `koanf:"url"`
}

type RedisConfig struct {
	URL         string        `koanf:"url"`
	SnapshotTTL time.Duration `koanf:"snapshot_ttl" validate:"gt=0"`
}

type HTTPConfig struct {
	Port             int           `koanf:"port" validate:"gte=1,lte=65535"`
	RequestTimeout   time.Duration `koanf:"request_timeout" validate:"gt=0"`
	TriggerPerMinute int           `koanf:"trigger_per_minute" validate:"gte=1"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

type SeedConfig struct {
	Enabled bool `koanf:"enabled"`
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			URL:              "https://api.ccc.bzctoons.net",
			Timeout:          30 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Collection: CollectionConfig{
			Interval:         60 * time.Second,
			CallTimeout:      30 * time.Second,
			PostCycleTimeout: 20 * time.Second,
		},
		Thresholds: ThresholdConfig{
			LowActivity:     10,
			HighFailureRate: 0.15,
			ResourceWarning: 0.8,
		},
		Analysis: AnalysisConfig{
			PeriodDays:    1,
			TopPercentile: 0.05,
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MaxConnIdleTime: 5 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		Redis: RedisConfig{
			SnapshotTTL: time.Hour,
		},
		HTTP: HTTPConfig{
			Port:             8000,
			RequestTimeout:   60 * time.Second,
			TriggerPerMinute: 6,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	// A manual collection runs inside one HTTP request, so the request
	// deadline must cover the slowest cycle.
	cycle := c.Collection.CallTimeout + c.Collection.PostCycleTimeout
	if c.HTTP.RequestTimeout <= cycle {
		return fmt.Errorf("%w: http.request_timeout (%s) must exceed collection.call_timeout + collection.post_cycle_timeout (%s)",
			ErrInvalid, c.HTTP.RequestTimeout, cycle)
	}
	return nil
}

// SlogLevel maps the configured level name onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
