package usecase

import (
	"context"
	"errors"

	"github.com/routelens/routelens/internal/domain"
)

// Standard errors returned by use cases and adapters.
var (
	// ErrNoCapture is returned by capture stores when no recording exists
	// for an endpoint.
	ErrNoCapture = errors.New("no capture for endpoint")
)

// --- Route Sources ---

// RouteSource supplies route records for discovery. Implementations load
// route-table dumps, scan Go source trees, or read protobuf descriptors;
// the generate use case concatenates their output in configuration order.
type RouteSource interface {
	// Name identifies the source in logs and stats.
	Name() string
	// Routes returns the records in source order.
	Routes(ctx context.Context) ([]domain.RouteInfo, error)
}

// --- Captured Traffic ---

// CaptureStore retrieves runtime-captured request/response recordings for
// merging into the static analysis.
type CaptureStore interface {
	// Find returns the capture for one endpoint, or ErrNoCapture when the
	// endpoint was never recorded.
	Find(ctx context.Context, method, path string) (*domain.Capture, error)
}

// --- Output ---

// SpecWriter persists a build result at the configured destination. The
// writer owns the output format; the use case hands over the result
// unmodified.
type SpecWriter interface {
	Write(ctx context.Context, result *domain.BuildResult) error
}
