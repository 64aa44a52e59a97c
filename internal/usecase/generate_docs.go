package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/astcache"
	"github.com/routelens/routelens/internal/discovery"
	"github.com/routelens/routelens/internal/domain"
	"github.com/routelens/routelens/internal/merge"
	"github.com/routelens/routelens/internal/schemareg"
)

const tracerName = "github.com/routelens/routelens/internal/usecase"

// GenerateDocsUseCase runs one end-to-end documentation build: route
// loading, endpoint discovery, the extractor pipeline, schema registration,
// capture merging and final assembly. The writer is optional; without one
// the build result is only returned to the caller.
type GenerateDocsUseCase struct {
	sources    []RouteSource
	discoverer *discovery.Discoverer
	pipeline   *analysis.Pipeline
	cache      *astcache.Cache
	schemas    *schemareg.Registry
	merger     *merge.Merger
	captures   CaptureStore
	writer     SpecWriter
	title      string
	version    string
	logger     *slog.Logger
}

// NewGenerateDocsUseCase creates the use case. captures and writer may be
// nil; every other collaborator is required.
func NewGenerateDocsUseCase(
	sources []RouteSource,
	discoverer *discovery.Discoverer,
	pipeline *analysis.Pipeline,
	cache *astcache.Cache,
	schemas *schemareg.Registry,
	merger *merge.Merger,
	captures CaptureStore,
	writer SpecWriter,
	title, version string,
	logger *slog.Logger,
) *GenerateDocsUseCase {
	return &GenerateDocsUseCase{
		sources:    sources,
		discoverer: discoverer,
		pipeline:   pipeline,
		cache:      cache,
		schemas:    schemas,
		merger:     merger,
		captures:   captures,
		writer:     writer,
		title:      title,
		version:    version,
		logger:     logger.With("usecase", "GenerateDocs"),
	}
}

// ExecuteOption narrows one build run.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	onlyRoute string
}

// WithOnlyRoute restricts the build to a single endpoint named as
// "GET /users/{id}", for debugging one handler without the noise of the
// full route table. ":id" style paths are accepted too.
func WithOnlyRoute(key string) ExecuteOption {
	return func(o *executeOptions) { o.onlyRoute = key }
}

// Execute performs one build. Route sources and discovery failures abort;
// anything that goes wrong inside a single endpoint is logged and that
// endpoint is skipped.
func (uc *GenerateDocsUseCase) Execute(ctx context.Context, opts ...ExecuteOption) (*domain.BuildResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "routelens.generate")
	defer span.End()

	var options executeOptions
	for _, opt := range opts {
		opt(&options)
	}

	log := uc.logger
	log.Info("Starting documentation build.", slog.Int("sources", len(uc.sources)))

	// Both caches carry state from the previous build in watch mode.
	uc.cache.Reset()
	uc.schemas.Reset()
	uc.pipeline.ResetStats()

	var routes []domain.RouteInfo
	for _, src := range uc.sources {
		loaded, err := src.Routes(ctx)
		if err != nil {
			log.Error("Route source failed.", slog.String("source", src.Name()), slog.Any("error", err))
			return nil, fmt.Errorf("failed to load routes from %s: %w", src.Name(), err)
		}
		log.Debug("Loaded routes.", slog.String("source", src.Name()), slog.Int("count", len(loaded)))
		routes = append(routes, loaded...)
	}

	contexts, err := uc.discoverer.Discover(ctx, routes)
	if err != nil {
		return nil, fmt.Errorf("failed to discover endpoints: %w", err)
	}

	only := normalizeKey(options.onlyRoute)

	stats := domain.BuildStats{RoutesDiscovered: len(routes)}
	endpoints := make([]domain.EndpointDoc, 0, len(contexts))
	for i := range contexts {
		ac := &contexts[i]
		if only != "" && ac.Key() != only {
			continue
		}
		doc, err := uc.buildEndpoint(ctx, ac, &stats)
		if err != nil {
			log.Warn("Skipping endpoint.", slog.String("endpoint", ac.Key()), slog.Any("error", err))
			stats.EndpointsSkipped++
			continue
		}
		endpoints = append(endpoints, doc)
	}

	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Route.URI != endpoints[j].Route.URI {
			return endpoints[i].Route.URI < endpoints[j].Route.URI
		}
		return endpoints[i].Method < endpoints[j].Method
	})

	stats.EndpointsAnalyzed = len(endpoints)
	stats.ExtractorFailures = uc.pipeline.FailureCount()
	stats.SchemasRegistered = uc.schemas.Len()
	cacheStats := uc.cache.Stats()
	stats.CacheHits = cacheStats.Hits
	stats.CacheMisses = cacheStats.Misses

	result := &domain.BuildResult{
		Endpoints: endpoints,
		Schemas:   uc.schemas.Schemas(),
		Stats:     stats,
		Title:     uc.title,
		Version:   uc.version,
	}

	log.Info("Documentation build complete.",
		slog.Int("routes", stats.RoutesDiscovered),
		slog.Int("endpoints", stats.EndpointsAnalyzed),
		slog.Int("skipped", stats.EndpointsSkipped),
		slog.Int("schemas", stats.SchemasRegistered),
		slog.Int("captures_merged", stats.CapturesMerged),
		slog.Int("extractor_failures", stats.ExtractorFailures))

	if uc.writer != nil {
		if err := uc.writer.Write(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to write documentation: %w", err)
		}
	}
	return result, nil
}

// buildEndpoint runs the pipeline for one endpoint. Extractor panics are
// already contained by the pipeline; this recover catches the rest of the
// per-endpoint path (schema registration, capture merging) so one endpoint
// cannot abort the build.
func (uc *GenerateDocsUseCase) buildEndpoint(ctx context.Context, ac *domain.AnalysisContext, stats *domain.BuildStats) (doc domain.EndpointDoc, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("endpoint build panicked: %v", r)
		}
	}()

	doc = domain.EndpointDoc{
		Route:  ac.Route,
		Method: ac.Method,
		Tags:   append([]string(nil), ac.Route.Groups...),
	}
	doc.RequestBody = uc.pipeline.RequestBody(ctx, ac)
	doc.Responses = uc.pipeline.Responses(ctx, ac)
	doc.Parameters = uc.pipeline.QueryParams(ctx, ac)
	doc.Security = uc.pipeline.Security(ctx, ac)
	doc = uc.pipeline.Transform(ctx, ac, doc)

	uc.registerSchemas(ac, &doc)
	uc.mergeCapture(ctx, ac, &doc, stats)
	return doc, nil
}

// registerSchemas replaces complex inline schemas with component references
// so endpoints sharing a shape share one definition.
func (uc *GenerateDocsUseCase) registerSchemas(ac *domain.AnalysisContext, doc *domain.EndpointDoc) {
	base := schemaHint(ac)
	if doc.RequestBody != nil && doc.RequestBody.Schema != nil {
		hint := base + "Request"
		if fd, ok := ac.FuncDigest(); ok && len(fd.BindTargets) > 0 {
			hint = fd.BindTargets[0]
		}
		doc.RequestBody.Schema = uc.schemas.RegisterIfComplex(hint, doc.RequestBody.Schema)
	}
	for i := range doc.Responses {
		res := &doc.Responses[i]
		if res.Schema == nil {
			continue
		}
		hint := base + "Response"
		if res.Status >= 400 {
			// Identical error envelopes across handlers collapse into
			// one shared component.
			hint = "ErrorResponse"
		}
		res.Schema = uc.schemas.RegisterIfComplex(hint, res.Schema)
	}
}

func (uc *GenerateDocsUseCase) mergeCapture(ctx context.Context, ac *domain.AnalysisContext, doc *domain.EndpointDoc, stats *domain.BuildStats) {
	if uc.captures == nil {
		return
	}
	rec, err := uc.captures.Find(ctx, ac.Method, ac.Route.URI)
	switch {
	case err == nil:
		*doc = uc.merger.MergeEndpoint(*doc, rec)
		stats.CapturesMerged++
	case errors.Is(err, ErrNoCapture):
		uc.logger.Debug("No capture for endpoint.", slog.String("endpoint", ac.Key()))
	default:
		uc.logger.Warn("Ignoring unreadable capture.", slog.String("endpoint", ac.Key()), slog.Any("error", err))
	}
}

// schemaHint derives a component-name stem from the handler reference, e.g.
// UserHandler.Show becomes UserHandlerShow. Closures fall back to the route
// name when one was declared.
func schemaHint(ac *domain.AnalysisContext) string {
	h := ac.Route.Handler
	if h.Type != "" || h.Func != "" {
		return h.Type + h.Func
	}
	if ac.Route.Name != "" {
		return ac.Route.Name
	}
	return "Endpoint"
}

// normalizeKey canonicalizes a user-supplied "METHOD /path" filter so it
// matches discovery's endpoint keys.
func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	method, path, ok := strings.Cut(key, " ")
	if !ok {
		return key
	}
	return domain.EndpointKey(method, domain.NormalizePath(strings.TrimSpace(path)))
}
