// Package astinfer infers responses and query parameters from patterns the
// source digest recorded in handler bodies: response-writing calls, query
// reads and the service's central error handler.
package astinfer

import (
	"log/slog"
	"sort"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/routelens/routelens/internal/adapter/extractor/security"
	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/astcache"
	"github.com/routelens/routelens/internal/domain"
)

// Priority is the floor of the extractor stack: every other source of truth
// outranks heuristic inference.
const Priority = 100

// Plugin registers AST inference for the response and query capabilities.
type Plugin struct {
	logger   *slog.Logger
	analyzer *ErrorAnalyzer
}

// New creates the plugin. errorHandler is a "file.go:FuncName" reference to
// the service's central error handler; empty disables envelope analysis.
func New(logger *slog.Logger, cache *astcache.Cache, errorHandler string) *Plugin {
	return &Plugin{
		logger:   logger.With("component", "astinfer"),
		analyzer: NewErrorAnalyzer(logger, cache, errorHandler),
	}
}

func (p *Plugin) Name() string { return "astinfer" }

// Boot wires the extractor into the registry.
func (p *Plugin) Boot(b *analysis.Binder) error {
	e := &extractor{logger: p.logger, analyzer: p.analyzer}
	b.Responses(e, Priority)
	b.QueryParams(e, Priority)
	return nil
}

type extractor struct {
	logger   *slog.Logger
	analyzer *ErrorAnalyzer
}

func (e *extractor) Name() string { return "astinfer" }

// ExtractResponses turns response hints into concrete responses, falls back
// to the handler's return type, and appends the error responses the central
// error handler implies for this endpoint.
func (e *extractor) ExtractResponses(ac *domain.AnalysisContext) ([]domain.ResponseResult, error) {
	fd, ok := ac.FuncDigest()
	if !ok {
		return nil, nil
	}
	var out []domain.ResponseResult
	have := map[int]bool{}

	for _, hint := range fd.ResponseHints {
		status := hint.Status
		if status == 0 {
			status = 200
		}
		if have[status] {
			continue
		}
		have[status] = true
		out = append(out, domain.ResponseResult{
			Status:      status,
			Schema:      e.hintSchema(ac, hint),
			ContentType: "application/json",
		})
	}
	if len(out) == 0 {
		if ref := returnTypeSchema(ac, fd.ReturnTypes); ref != nil {
			have[200] = true
			out = append(out, domain.ResponseResult{Status: 200, Schema: ref, ContentType: "application/json"})
		}
	}

	out = append(out, e.errorResponses(ac, fd, have)...)
	return out, nil
}

// ExtractQueryParams turns observed query reads into parameters.
func (e *extractor) ExtractQueryParams(ac *domain.AnalysisContext) ([]domain.ParameterResult, error) {
	fd, ok := ac.FuncDigest()
	if !ok || len(fd.QueryKeys) == 0 {
		return nil, nil
	}
	seen := map[string]bool{}
	params := make([]domain.ParameterResult, 0, len(fd.QueryKeys))
	for _, key := range fd.QueryKeys {
		if key.Name == "" || seen[key.Name] {
			continue
		}
		seen[key.Name] = true
		params = append(params, domain.ParameterResult{
			Name:    key.Name,
			In:      domain.ParamInQuery,
			Schema:  scalarRef(key.Type),
			Default: defaultValue(key),
		})
	}
	return params, nil
}

func (e *extractor) hintSchema(ac *domain.AnalysisContext, hint domain.ResponseHint) *openapi3.SchemaRef {
	var ref *openapi3.SchemaRef
	switch {
	case hint.TypeName != "":
		ref = astcache.StructSchema(ac.Digest, hint.TypeName)
		if ref == nil {
			e.logger.Debug("Response hint names a type outside the handler file.",
				slog.String("type", hint.TypeName), slog.String("endpoint", ac.Key()))
			return nil
		}
	case len(hint.Fields) > 0:
		schema := &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: openapi3.Schemas{},
		}
		for _, f := range hint.Fields {
			schema.Properties[f.Name] = scalarRef(f.Type)
		}
		ref = openapi3.NewSchemaRef("", schema)
	default:
		return nil
	}
	if hint.Array {
		ref = openapi3.NewSchemaRef("", &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: ref,
		})
	}
	return ref
}

// errorResponses adds the statuses the central error handler can produce for
// this endpoint: validation failure when the handler binds input, not-found
// for parameterized routes, unauthenticated behind auth middleware, the
// per-error-type statuses, and the 500 fallback.
func (e *extractor) errorResponses(ac *domain.AnalysisContext, fd domain.FuncDigest, have map[int]bool) []domain.ResponseResult {
	res := e.analyzer.Result()
	if res == nil {
		return nil
	}
	var out []domain.ResponseResult
	add := func(status int, schema *openapi3.SchemaRef, desc string) {
		if status == 0 || have[status] {
			return
		}
		have[status] = true
		out = append(out, domain.ResponseResult{
			Status:      status,
			Schema:      schema,
			ContentType: "application/json",
			Description: desc,
		})
	}

	validation := validationStatus(res)
	if len(fd.RuleLiterals) > 0 || len(fd.BindTargets) > 0 {
		add(validation, envelopeSchema(res, true), "Validation failed.")
	}
	if len(ac.Route.PathParams) > 0 {
		add(404, envelopeSchema(res, false), "")
	}
	if hasAuthMiddleware(ac.Route.Middleware) {
		add(401, envelopeSchema(res, false), "Unauthenticated.")
	}
	for _, status := range sortedStatuses(res.StatusByError) {
		add(status, envelopeSchema(res, status == validation), "")
	}
	add(500, envelopeSchema(res, false), "")
	return out
}

// envelopeSchema builds the error body schema. Conditional properties are
// present but never required; withConditional gates them in.
func envelopeSchema(res *domain.HandlerAnalysisResult, withConditional bool) *openapi3.SchemaRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
	}
	for name, ref := range res.Envelope {
		schema.Properties[name] = domain.CloneSchemaRef(ref)
		schema.Required = append(schema.Required, name)
	}
	sort.Strings(schema.Required)
	if withConditional {
		for name, ref := range res.Conditional {
			if _, exists := schema.Properties[name]; !exists {
				schema.Properties[name] = domain.CloneSchemaRef(ref)
			}
		}
	}
	return openapi3.NewSchemaRef("", schema)
}

// validationStatus prefers the status the handler maps validation errors to,
// defaulting to 422.
func validationStatus(res *domain.HandlerAnalysisResult) int {
	for name, status := range res.StatusByError {
		if containsFold(name, "validation") {
			return status
		}
	}
	return 422
}

func hasAuthMiddleware(middleware []string) bool {
	for _, mw := range middleware {
		if _, ok := security.ParseScheme(mw); ok {
			return true
		}
	}
	return false
}

func sortedStatuses(byError map[string]int) []int {
	seen := map[int]bool{}
	statuses := make([]int, 0, len(byError))
	for _, s := range byError {
		if !seen[s] {
			seen[s] = true
			statuses = append(statuses, s)
		}
	}
	sort.Ints(statuses)
	return statuses
}

func returnTypeSchema(ac *domain.AnalysisContext, returnTypes []string) *openapi3.SchemaRef {
	for _, name := range returnTypes {
		array := false
		if len(name) > 2 && name[:2] == "[]" {
			array = true
			name = name[2:]
		}
		ref := astcache.StructSchema(ac.Digest, name)
		if ref == nil {
			continue
		}
		if array {
			ref = openapi3.NewSchemaRef("", &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: ref,
			})
		}
		return ref
	}
	return nil
}

func scalarRef(t string) *openapi3.SchemaRef {
	switch t {
	case "integer", "number", "boolean", "object", "array":
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{t}})
	}
	return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"string"}})
}

func defaultValue(key domain.QueryKey) any {
	if key.Default == "" {
		return nil
	}
	switch key.Type {
	case "integer":
		if n, err := strconv.Atoi(key.Default); err == nil {
			return n
		}
	case "number":
		if f, err := strconv.ParseFloat(key.Default, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(key.Default); err == nil {
			return b
		}
	}
	return key.Default
}
