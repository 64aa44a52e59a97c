// Package rulemap infers request schemas from validation rule maps declared
// in handler bodies or on bound request structs. For query-bound methods the
// same rules become query parameters instead of a body.
package rulemap

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/routelens/routelens/internal/analysis"
	"github.com/routelens/routelens/internal/domain"
	"github.com/routelens/routelens/internal/rules"
)

// Priority puts rule-derived schemas above AST inference; only explicit
// directives outrank them.
const Priority = 200

// Plugin registers the rule map extractor for the request body and query
// parameter capabilities.
type Plugin struct {
	logger *slog.Logger
	mapper *rules.Mapper
}

// New creates the plugin.
func New(logger *slog.Logger) *Plugin {
	return &Plugin{
		logger: logger.With("component", "rulemap"),
		mapper: rules.NewMapper(logger),
	}
}

func (p *Plugin) Name() string { return "rulemap" }

// Boot wires the extractor into the registry.
func (p *Plugin) Boot(b *analysis.Binder) error {
	e := &extractor{logger: p.logger, mapper: p.mapper}
	b.RequestBody(e, Priority)
	b.QueryParams(e, Priority)
	return nil
}

type extractor struct {
	logger *slog.Logger
	mapper *rules.Mapper
}

func (e *extractor) Name() string { return "rulemap" }

// ExtractRequestBody maps the handler's rule map into a body schema. Methods
// without a request body are left to ExtractQueryParams.
func (e *extractor) ExtractRequestBody(ac *domain.AnalysisContext) (*domain.SchemaResult, error) {
	if queryBound(ac.Method) {
		return nil, nil
	}
	ruleMap, ok := e.ruleMapFor(ac)
	if !ok {
		return nil, nil
	}
	res := e.mapper.Map(ruleMap)
	out := &domain.SchemaResult{
		Schema:      res.Schema,
		ContentType: "application/json",
		Required:    hasRequired(res),
	}
	if res.Multipart {
		out.ContentType = "multipart/form-data"
	}
	return out, nil
}

// ExtractQueryParams turns top-level rule fields into query parameters for
// methods whose input travels in the query string.
func (e *extractor) ExtractQueryParams(ac *domain.AnalysisContext) ([]domain.ParameterResult, error) {
	if !queryBound(ac.Method) {
		return nil, nil
	}
	ruleMap, ok := e.ruleMapFor(ac)
	if !ok {
		return nil, nil
	}
	root := e.mapper.Map(ruleMap).Schema.Value
	if root == nil || len(root.Properties) == 0 {
		return nil, nil
	}
	required := make(map[string]bool, len(root.Required))
	for _, name := range root.Required {
		required[name] = true
	}
	names := make([]string, 0, len(root.Properties))
	for name := range root.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]domain.ParameterResult, 0, len(names))
	for _, name := range names {
		params = append(params, domain.ParameterResult{
			Name:     name,
			In:       domain.ParamInQuery,
			Schema:   root.Properties[name],
			Required: required[name],
		})
	}
	return params, nil
}

// ruleMapFor finds the endpoint's rule map: a literal in the handler body
// wins, then a Rules() method on any type the handler binds into.
func (e *extractor) ruleMapFor(ac *domain.AnalysisContext) (map[string]rules.RuleSet, bool) {
	fd, ok := ac.FuncDigest()
	if !ok {
		return nil, false
	}
	if len(fd.RuleLiterals) > 0 {
		return rules.FromStringMap(fd.RuleLiterals[0].Rules), true
	}
	for _, target := range fd.BindTargets {
		rf, ok := ac.Digest.Funcs[target+".Rules"]
		if ok && len(rf.RuleLiterals) > 0 {
			return rules.FromStringMap(rf.RuleLiterals[0].Rules), true
		}
	}
	return nil, false
}

func hasRequired(res *rules.Result) bool {
	if res.Schema == nil || res.Schema.Value == nil {
		return false
	}
	return len(res.Schema.Value.Required) > 0
}

func queryBound(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "DELETE":
		return true
	}
	return false
}
