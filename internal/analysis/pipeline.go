package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/routelens/routelens/internal/domain"
)

const meterName = "github.com/routelens/routelens/internal/analysis"

// Pipeline runs the registered extractors for each capability and merges
// their contributions. Every extractor invocation is contained: errors and
// panics are logged with the extractor's identity, counted, and turn into
// an empty contribution.
type Pipeline struct {
	reg      *Registry
	logger   *slog.Logger
	failures metric.Int64Counter
	runs     metric.Int64Counter

	failureCount atomic.Int64
}

// NewPipeline creates a Pipeline over a registry.
func NewPipeline(reg *Registry, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		reg:    reg,
		logger: logger.With("component", "pipeline"),
	}
	meter := otel.Meter(meterName)
	var err error
	if p.failures, err = meter.Int64Counter("routelens.extractor.failures",
		metric.WithDescription("Extractor invocations that errored or panicked.")); err != nil {
		p.logger.Warn("Cannot create failure counter.", slog.Any("error", err))
	}
	if p.runs, err = meter.Int64Counter("routelens.extractor.invocations",
		metric.WithDescription("Total extractor invocations.")); err != nil {
		p.logger.Warn("Cannot create invocation counter.", slog.Any("error", err))
	}
	return p
}

// RequestBody asks request body extractors in priority order and returns the
// first non-empty result.
func (p *Pipeline) RequestBody(ctx context.Context, ac *domain.AnalysisContext) *domain.SchemaResult {
	for _, reg := range p.reg.sortedBodies() {
		var res *domain.SchemaResult
		p.invoke(ctx, reg.name, "request_body", func() error {
			out, err := reg.impl.(RequestBodyExtractor).ExtractRequestBody(ac)
			res = out
			return err
		})
		if res != nil {
			res.Source = reg.name
			return res
		}
	}
	return nil
}

// Responses collects response contributions from every extractor and merges
// them by status code. On a collision the earlier (higher priority)
// contribution wins, except that a schema-less entry adopts the schema, and
// only the schema, of a later one.
func (p *Pipeline) Responses(ctx context.Context, ac *domain.AnalysisContext) []domain.ResponseResult {
	byStatus := make(map[int]domain.ResponseResult)
	for _, reg := range p.reg.sortedResponses() {
		var list []domain.ResponseResult
		p.invoke(ctx, reg.name, "responses", func() error {
			out, err := reg.impl.(ResponseExtractor).ExtractResponses(ac)
			list = out
			return err
		})
		for _, rr := range list {
			if rr.Status == 0 {
				continue
			}
			if rr.Source == "" {
				rr.Source = reg.name
			}
			existing, ok := byStatus[rr.Status]
			if !ok {
				byStatus[rr.Status] = rr
				continue
			}
			if existing.Schema == nil && rr.Schema != nil {
				existing.Schema = rr.Schema
				byStatus[rr.Status] = existing
			}
		}
	}

	statuses := make([]int, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	sort.Ints(statuses)
	out := make([]domain.ResponseResult, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, byStatus[s])
	}
	return out
}

// QueryParams collects query parameters from every extractor. The first
// writer of a name wins outright; later extractors only add unseen names.
func (p *Pipeline) QueryParams(ctx context.Context, ac *domain.AnalysisContext) []domain.ParameterResult {
	seen := make(map[string]struct{})
	var out []domain.ParameterResult
	for _, reg := range p.reg.sortedQueries() {
		var list []domain.ParameterResult
		p.invoke(ctx, reg.name, "query_params", func() error {
			res, err := reg.impl.(QueryParamExtractor).ExtractQueryParams(ac)
			list = res
			return err
		})
		for _, pr := range list {
			if pr.Name == "" {
				continue
			}
			if _, dup := seen[pr.Name]; dup {
				continue
			}
			seen[pr.Name] = struct{}{}
			if pr.In == "" {
				pr.In = domain.ParamInQuery
			}
			if pr.Source == "" {
				pr.Source = reg.name
			}
			out = append(out, pr)
		}
	}
	return out
}

// Security returns the first non-nil detection in priority order.
func (p *Pipeline) Security(ctx context.Context, ac *domain.AnalysisContext) *domain.SecurityResult {
	for _, reg := range p.reg.sortedSecurities() {
		var res *domain.SecurityResult
		p.invoke(ctx, reg.name, "security", func() error {
			out, err := reg.impl.(SecurityExtractor).DetectSecurity(ac)
			res = out
			return err
		})
		if res != nil {
			if res.Source == "" {
				res.Source = reg.name
			}
			return res
		}
	}
	return nil
}

// Transform folds the endpoint document through every transformer in
// priority order. A failing transformer is skipped; the accumulator keeps
// its previous value.
func (p *Pipeline) Transform(ctx context.Context, ac *domain.AnalysisContext, doc domain.EndpointDoc) domain.EndpointDoc {
	acc := doc
	for _, reg := range p.reg.sortedTransforms() {
		next := acc
		applied := false
		p.invoke(ctx, reg.name, "transform", func() error {
			out, err := reg.impl.(OperationTransformer).TransformOperation(ac, acc)
			if err != nil {
				return err
			}
			next = out
			applied = true
			return nil
		})
		if applied {
			acc = next
		}
	}
	return acc
}

// FailureCount reports contained failures since the last ResetStats.
func (p *Pipeline) FailureCount() int {
	return int(p.failureCount.Load())
}

// ResetStats clears the per-run failure count.
func (p *Pipeline) ResetStats() {
	p.failureCount.Store(0)
}

// invoke runs one extractor invocation inside the containment boundary.
func (p *Pipeline) invoke(ctx context.Context, name, capability string, fn func() error) {
	if p.runs != nil {
		p.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("extractor", name),
			attribute.String("capability", capability)))
	}
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, name, capability, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		p.fail(ctx, name, capability, err)
	}
}

func (p *Pipeline) fail(ctx context.Context, name, capability string, err error) {
	p.failureCount.Add(1)
	if p.failures != nil {
		p.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("extractor", name),
			attribute.String("capability", capability)))
	}
	p.logger.Warn("Extractor failed, continuing without its contribution.",
		slog.String("extractor", name),
		slog.String("capability", capability),
		slog.Any("error", err))
}
