package source

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"watchtower/internal/collector"
)

// DefaultEndpoints are the game API paths polled for each category.
func DefaultEndpoints() map[collector.Category]string {
	return map[collector.Category]string{
		collector.CategoryNomads:    "/nomads",
		collector.CategoryResources: "/resources",
		collector.CategoryDwellings: "/dwellings",
		collector.CategoryPvP:       "/pvp",
		collector.CategoryEvents:    "/events",
	}
}

// EndpointFile is the YAML layout of an endpoint override file:
//
//	endpoints:
//	  pvp: /pvp/combat/stats
type EndpointFile struct {
	Endpoints map[string]string `yaml:"endpoints"`
}

// LoadEndpoints reads an endpoint override file and merges it over the
// defaults.
func LoadEndpoints(path string) (map[collector.Category]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file EndpointFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}
	if len(file.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured in %s", path)
	}
	overrides := map[string]string{}
	for name, endpoint := range file.Endpoints {
		overrides[strings.ToLower(name)] = endpoint
	}
	return MergeEndpoints(DefaultEndpoints(), overrides)
}

// MergeEndpoints overlays overrides, keyed by category name, onto base.
func MergeEndpoints(base map[collector.Category]string, overrides map[string]string) (map[collector.Category]string, error) {
	merged := make(map[collector.Category]string, len(base))
	for category, endpoint := range base {
		merged[category] = endpoint
	}
	for name, endpoint := range overrides {
		category, err := collector.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		if endpoint == "" {
			return nil, fmt.Errorf("empty endpoint for %s", category)
		}
		if !strings.HasPrefix(endpoint, "/") {
			endpoint = "/" + endpoint
		}
		merged[category] = endpoint
	}
	return merged, nil
}
