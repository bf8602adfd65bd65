package collector

import (
	"context"
	"fmt"
)

type Category string

const (
	CategoryNomads    Category = "nomads"
	CategoryResources Category = "resources"
	CategoryDwellings Category = "dwellings"
	CategoryPvP       Category = "pvp"
	CategoryEvents    Category = "events"
)

// Categories lists every category collected per cycle, in reporting order.
var Categories = []Category{
	CategoryNomads,
	CategoryResources,
	CategoryDwellings,
	CategoryPvP,
	CategoryEvents,
}

func ParseCategory(value string) (Category, error) {
	for _, c := range Categories {
		if string(c) == value {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", value)
}

type FailureKind string

const (
	KindNotFound     FailureKind = "not_found"
	KindUnauthorized FailureKind = "unauthorized"
	KindServerError  FailureKind = "server_error"
	KindTimeout      FailureKind = "timeout"
	KindNetworkError FailureKind = "network_error"
	KindUnknown      FailureKind = "unknown"
)

// Payload is the decoded JSON object returned by an upstream endpoint.
type Payload map[string]any

// Result is the outcome of fetching one category: either Success or Failure.
type Result interface {
	isResult()
}

type Success struct {
	Payload Payload
}

type Failure struct {
	Kind    FailureKind
	Message string
}

func (Success) isResult() {}
func (Failure) isResult() {}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Source fetches the raw payload for one category. Implementations classify
// their own failures and must honour ctx cancellation.
type Source interface {
	Fetch(ctx context.Context, category Category) Result
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, category Category) Result

func (f SourceFunc) Fetch(ctx context.Context, category Category) Result {
	return f(ctx, category)
}
