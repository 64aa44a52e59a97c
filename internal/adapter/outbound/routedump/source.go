// Package routedump loads the analyzed service's route table from a JSON or
// YAML dump file, the shape exported by the service's route:dump command.
package routedump

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/routelens/routelens/internal/domain"
)

// Source implements the route source port over a dump file.
type Source struct {
	logger *slog.Logger
	path   string
}

// New creates a Source for the dump file at path.
func New(logger *slog.Logger, path string) *Source {
	return &Source{
		logger: logger.With("component", "routedump"),
		path:   path,
	}
}

// Name identifies the source in logs and stats.
func (s *Source) Name() string { return "routedump" }

type dumpFile struct {
	Routes []domain.RouteInfo `json:"routes" yaml:"routes"`
}

// Routes reads and decodes the dump. The format follows the file extension;
// unknown extensions try JSON first, then YAML.
func (s *Source) Routes(ctx context.Context) ([]domain.RouteInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route dump %s: %w", s.path, err)
	}

	var dump dumpFile
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &dump)
	case ".json":
		err = json.Unmarshal(data, &dump)
	default:
		if err = json.Unmarshal(data, &dump); err != nil {
			err = yaml.Unmarshal(data, &dump)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode route dump %s: %w", s.path, err)
	}

	routes := make([]domain.RouteInfo, 0, len(dump.Routes))
	for _, route := range dump.Routes {
		routes = append(routes, normalize(route))
	}
	s.logger.Info("Loaded route dump.",
		slog.String("path", s.path),
		slog.Int("routes", len(routes)))
	return routes, nil
}

// normalize canonicalizes a decoded record: URI template form, upper-case
// methods, GET when no method was listed, path parameters derived from the
// URI when the dump named none.
func normalize(route domain.RouteInfo) domain.RouteInfo {
	route.URI = domain.NormalizePath(route.URI)
	route.Origin = domain.RouteOriginDump
	if len(route.Methods) == 0 {
		route.Methods = []string{"GET"}
	}
	for i, m := range route.Methods {
		route.Methods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	if route.Handler.Package == "" && route.Handler.Type == "" && route.Handler.Func == "" {
		route.Handler.Closure = true
	}
	if len(route.PathParams) == 0 {
		for _, name := range domain.PathParamNames(route.URI) {
			route.PathParams = append(route.PathParams, domain.PathParam{Name: name})
		}
	}
	return route
}
