package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

var DefaultConfigPaths = []string{
	"watchtower.yaml",
	"watchtower.yml",
	"/etc/watchtower/config.yaml",
}

const (
	ConfigPathEnvVar = "CONFIG_PATH"
	envPrefix        = "WATCHTOWER_"
	// legacyIntervalEnv holds the collection interval as whole seconds.
	legacyIntervalEnv = "METRICS_COLLECTION_INTERVAL"
)

// legacyEnv maps the plain variable names the service has always read.
var legacyEnv = map[string]string{
	"ccc_api_url":        "api.url",
	"ccc_api_key":        "api.key",
	"api_endpoints_file": "api.endpoints_file",
	"database_url":       "database.url",
	"nats_url":           "nats.url",
	"redis_url":          "redis.url",
	"http_port":          "http.port",
	"port":               "http.port",
	"log_level":          "log.level",
	"seed_mock_data":     "seed.enabled",
}

// Load layers defaults, the YAML file at path (or the first default path
// found) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if raw := os.Getenv(legacyIntervalEnv); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalid, legacyIntervalEnv, raw)
		}
		if err := k.Set("collection.interval", time.Duration(seconds)*time.Second); err != nil {
			return nil, fmt.Errorf("failed to set collection interval: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps WATCHTOWER_SECTION__KEY onto section.key and the
// legacy names onto their keys. Anything else is ignored.
func envTransformFunc(key string) string {
	if strings.HasPrefix(key, envPrefix) {
		trimmed := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		return strings.ReplaceAll(trimmed, "__", ".")
	}
	if mapped, ok := legacyEnv[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
