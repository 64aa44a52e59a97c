// Package directive turns apidoc: doc-comment annotations into documentation
// fragments. Annotations are authored facts, so the body override outranks
// every inferring extractor.
package directive

import (
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/routelens/routelens/internal/adapter/extractor/security"
	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/astcache"
	"github.com/routelens/routelens/internal/domain"
)

const (
	// Priority covers responses, parameters, security and metadata.
	Priority = 150
	// BodyPriority lets an explicit apidoc:body beat rule-map inference.
	BodyPriority = 250
)

// Plugin registers the annotation extractor across all five capabilities.
type Plugin struct {
	logger *slog.Logger
}

// New creates the plugin.
func New(logger *slog.Logger) *Plugin {
	return &Plugin{logger: logger.With("component", "directive")}
}

func (p *Plugin) Name() string { return "directive" }

// Boot wires the extractor into the registry.
func (p *Plugin) Boot(b *analysis.Binder) error {
	e := &extractor{logger: p.logger}
	b.RequestBody(e, BodyPriority)
	b.Responses(e, Priority)
	b.QueryParams(e, Priority)
	b.Security(e, Priority)
	b.Transformer(e, Priority)
	return nil
}

type extractor struct {
	logger *slog.Logger
}

func (e *extractor) Name() string { return "directive" }

// ExtractRequestBody resolves "apidoc:body TypeName [description]" against
// the handler file's struct digests.
func (e *extractor) ExtractRequestBody(ac *domain.AnalysisContext) (*domain.SchemaResult, error) {
	a, ok := ac.Annotations.First("body")
	if !ok || len(a.Args) == 0 {
		return nil, nil
	}
	ref := schemaForType(ac, a.Args[0])
	if ref == nil {
		e.logger.Debug("Body directive names an unknown type.",
			slog.String("type", a.Args[0]), slog.String("endpoint", ac.Key()))
		return nil, nil
	}
	return &domain.SchemaResult{
		Schema:      ref,
		ContentType: "application/json",
		Required:    true,
		Description: strings.Join(a.Args[1:], " "),
	}, nil
}

// ExtractResponses resolves "apidoc:response 201 [TypeName] [description]"
// directives. A directive whose type cannot be resolved still contributes
// its status and description.
func (e *extractor) ExtractResponses(ac *domain.AnalysisContext) ([]domain.ResponseResult, error) {
	var out []domain.ResponseResult
	for _, a := range ac.Annotations.All("response") {
		if len(a.Args) == 0 {
			continue
		}
		status, err := strconv.Atoi(a.Args[0])
		if err != nil || status < 100 || status > 599 {
			e.logger.Debug("Response directive has no valid status.",
				slog.String("raw", a.Raw), slog.String("endpoint", ac.Key()))
			continue
		}
		rr := domain.ResponseResult{Status: status}
		rest := a.Args[1:]
		if len(rest) > 0 && isTypeName(rest[0]) {
			rr.Schema = schemaForType(ac, rest[0])
			rest = rest[1:]
		}
		rr.Description = strings.Join(rest, " ")
		out = append(out, rr)
	}
	return out, nil
}

// ExtractQueryParams resolves "apidoc:query name [type] [required]
// [description]" directives.
func (e *extractor) ExtractQueryParams(ac *domain.AnalysisContext) ([]domain.ParameterResult, error) {
	var out []domain.ParameterResult
	for _, a := range ac.Annotations.All("query") {
		if len(a.Args) == 0 {
			continue
		}
		pr := domain.ParameterResult{Name: a.Args[0], In: domain.ParamInQuery}
		rest := a.Args[1:]
		if len(rest) > 0 {
			if s, ok := paramSchema(rest[0]); ok {
				pr.Schema = s
				rest = rest[1:]
			}
		}
		if len(rest) > 0 && rest[0] == "required" {
			pr.Required = true
			rest = rest[1:]
		}
		if pr.Schema == nil {
			pr.Schema = openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"string"}})
		}
		pr.Description = strings.Join(rest, " ")
		out = append(out, pr)
	}
	return out, nil
}

// DetectSecurity resolves "apidoc:auth <scheme>" using the same scheme
// grammar as middleware detection.
func (e *extractor) DetectSecurity(ac *domain.AnalysisContext) (*domain.SecurityResult, error) {
	a, ok := ac.Annotations.First("auth")
	if !ok || len(a.Args) == 0 {
		return nil, nil
	}
	sec, ok := security.ParseScheme(a.Args[0])
	if !ok {
		e.logger.Debug("Auth directive names an unknown scheme.",
			slog.String("scheme", a.Args[0]), slog.String("endpoint", ac.Key()))
		return nil, nil
	}
	return sec, nil
}

// TransformOperation applies metadata directives: summary, description, tag,
// operationId and deprecated.
func (e *extractor) TransformOperation(ac *domain.AnalysisContext, doc domain.EndpointDoc) (domain.EndpointDoc, error) {
	if a, ok := ac.Annotations.First("summary"); ok && a.Raw != "" {
		doc.Summary = a.Raw
	}
	if list := ac.Annotations.All("description"); len(list) > 0 {
		parts := make([]string, 0, len(list))
		for _, a := range list {
			if a.Raw != "" {
				parts = append(parts, a.Raw)
			}
		}
		if len(parts) > 0 {
			doc.Description = strings.Join(parts, "\n")
		}
	}
	for _, a := range ac.Annotations.All("tag") {
		for _, tag := range a.Args {
			doc.Tags = appendUnique(doc.Tags, tag)
		}
	}
	if a, ok := ac.Annotations.First("operationId"); ok && len(a.Args) > 0 {
		doc.OperationID = a.Args[0]
	}
	if ac.Annotations.Has("deprecated") {
		doc.Deprecated = true
	}
	return doc, nil
}

// schemaForType resolves a (possibly slice) type name against the handler
// file digest.
func schemaForType(ac *domain.AnalysisContext, name string) *openapi3.SchemaRef {
	elem := strings.TrimPrefix(name, "[]")
	ref := astcache.StructSchema(ac.Digest, elem)
	if ref == nil {
		return nil
	}
	if elem != name {
		return openapi3.NewSchemaRef("", &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: ref,
		})
	}
	return ref
}

func isTypeName(tok string) bool {
	tok = strings.TrimPrefix(tok, "[]")
	for _, r := range tok {
		return unicode.IsUpper(r)
	}
	return false
}

func paramSchema(tok string) (*openapi3.SchemaRef, bool) {
	var t string
	switch tok {
	case "string":
		t = "string"
	case "int", "integer":
		t = "integer"
	case "number", "float":
		t = "number"
	case "bool", "boolean":
		t = "boolean"
	default:
		return nil, false
	}
	return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{t}}), true
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
