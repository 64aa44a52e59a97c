package domain

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// SchemaResult is one analyzer's request-body contribution. Schema follows
// the reference-or-inline rule: a node with a non-empty Ref never carries an
// inline value, and vice versa.
type SchemaResult struct {
	Schema      *openapi3.SchemaRef
	Description string
	// ContentType defaults to application/json; rule maps with file fields
	// switch it to multipart/form-data.
	ContentType string
	Required    bool
	Example     any
	// Source tags the analyzer that produced the result, for logs and
	// merge provenance.
	Source string
}

// ResponseResult is one analyzer's response contribution for a single status.
type ResponseResult struct {
	Status      int
	Schema      *openapi3.SchemaRef
	Description string
	ContentType string
	Headers     map[string]string
	Example     any
	Source      string
}

// ParameterResult is one non-body parameter.
type ParameterResult struct {
	Name        string
	In          string // query, path, header, cookie
	Schema      *openapi3.SchemaRef
	Description string
	Required    bool
	Example     any
	Default     any
	Source      string
}

const (
	ParamInQuery  = "query"
	ParamInPath   = "path"
	ParamInHeader = "header"
	ParamInCookie = "cookie"
)

// SecurityResult describes the authentication scheme detected for a route.
type SecurityResult struct {
	// Name is the scheme identifier used in the output components.
	Name string
	// Type is "http" or "apiKey".
	Type string
	// Scheme is "bearer" or "basic" for http-type schemes.
	Scheme       string
	BearerFormat string
	// In and ParamName locate apiKey-type credentials.
	In          string
	ParamName   string
	Description string
	Source      string
}

// EndpointDoc is the assembled documentation for one (route, method) pair.
type EndpointDoc struct {
	Route       RouteInfo
	Method      string
	OperationID string
	Summary     string
	Description string
	Tags        []string
	Deprecated  bool
	RequestBody *SchemaResult
	// Responses are sorted by ascending status.
	Responses []ResponseResult
	// Parameters list path parameters first, then query parameters in
	// first-seen order.
	Parameters []ParameterResult
	Security   *SecurityResult
}

// Key names the endpoint, e.g. "GET /users/{id}".
func (d EndpointDoc) Key() string {
	return EndpointKey(d.Method, d.Route.URI)
}

// HandlerAnalysisResult is the memoized analysis of the service's central
// error handler: the error envelope shape and how error types map to HTTP
// statuses.
type HandlerAnalysisResult struct {
	// Envelope holds the properties present on every error response.
	Envelope map[string]*openapi3.SchemaRef
	// Conditional holds properties only some branches emit, such as the
	// per-field validation message map.
	Conditional map[string]*openapi3.SchemaRef
	// StatusByError maps error type names to the status their branch
	// writes.
	StatusByError map[string]int
}

// BuildStats counts what a documentation build did.
type BuildStats struct {
	RoutesDiscovered  int
	EndpointsAnalyzed int
	EndpointsSkipped  int
	ExtractorFailures int
	SchemasRegistered int
	CapturesMerged    int
	CacheHits         int
	CacheMisses       int
}

// BuildResult is the output of one documentation build: the per-endpoint
// documents plus the shared schema catalogue referenced by them.
type BuildResult struct {
	Endpoints []EndpointDoc
	// Schemas is keyed by registered component name.
	Schemas map[string]*openapi3.SchemaRef
	Stats   BuildStats
	// Title and Version describe the documented API, from configuration.
	Title   string
	Version string
}

// CloneSchemaRef deep-copies a schema node so analyzers never share mutable
// schema state. Reference nodes clone to a bare reference; inline nodes round-
// trip through the openapi3 codec.
func CloneSchemaRef(ref *openapi3.SchemaRef) *openapi3.SchemaRef {
	if ref == nil {
		return nil
	}
	if ref.Ref != "" {
		return openapi3.NewSchemaRef(ref.Ref, nil)
	}
	data, err := ref.MarshalJSON()
	if err != nil {
		return ref
	}
	out := new(openapi3.SchemaRef)
	if err := out.UnmarshalJSON(data); err != nil {
		return ref
	}
	return out
}
