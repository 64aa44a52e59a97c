package domain

import "strings"

// RouteOrigin identifies which source produced a route record.
type RouteOrigin string

const (
	RouteOriginDump  RouteOrigin = "dump"  // exported route-table dump (JSON/YAML)
	RouteOriginScan  RouteOrigin = "scan"  // heuristic Go source scan
	RouteOriginProto RouteOrigin = "proto" // protobuf service descriptors
)

// HandlerRef points at the code that serves a route. File and Line locate the
// declaration when the source is available; Closure marks inline handler
// functions that have no standalone declaration to inspect.
type HandlerRef struct {
	Package string `json:"package,omitempty" yaml:"package,omitempty"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Func    string `json:"func,omitempty" yaml:"func,omitempty"`
	File    string `json:"file,omitempty" yaml:"file,omitempty"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`
	Closure bool   `json:"closure,omitempty" yaml:"closure,omitempty"`
}

// String renders the reference for logs, e.g. "handlers.UserHandler.Show".
func (h HandlerRef) String() string {
	parts := make([]string, 0, 3)
	if h.Package != "" {
		parts = append(parts, h.Package)
	}
	if h.Type != "" {
		parts = append(parts, h.Type)
	}
	if h.Func != "" {
		parts = append(parts, h.Func)
	}
	if len(parts) == 0 {
		return "<closure>"
	}
	return strings.Join(parts, ".")
}

// PathParam is a placeholder segment of a route URI. Constraint carries the
// raw pattern (regexp or converter name) declared in the route table, if any.
type PathParam struct {
	Name       string `json:"name" yaml:"name"`
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`
}

// RouteInfo is one record of the analyzed service's route table. A record may
// list several methods; discovery fans it out into one analysis context per
// surviving method. Instances are value types and treated as immutable once
// built by a source.
type RouteInfo struct {
	// URI in canonical template form, e.g. "/users/{id}". Sources accept
	// ":id" style and normalize through NormalizePath.
	URI        string      `json:"uri" yaml:"uri"`
	Methods    []string    `json:"methods" yaml:"methods"`
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	Handler    HandlerRef  `json:"handler" yaml:"handler"`
	Middleware []string    `json:"middleware,omitempty" yaml:"middleware,omitempty"`
	PathParams []PathParam `json:"path_params,omitempty" yaml:"path_params,omitempty"`
	Host       string      `json:"host,omitempty" yaml:"host,omitempty"`
	// Groups are documentation groups the route belongs to ("v1", "admin").
	Groups []string    `json:"groups,omitempty" yaml:"groups,omitempty"`
	Origin RouteOrigin `json:"origin,omitempty" yaml:"origin,omitempty"`
	// ProtoMethod holds the full RPC method name ("/pkg.Service/Method")
	// when Origin is RouteOriginProto.
	ProtoMethod string `json:"proto_method,omitempty" yaml:"proto_method,omitempty"`
}

// EndpointKey names one (method, path) pair, e.g. "GET /users/{id}".
func EndpointKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// NormalizePath rewrites ":param" style segments into "{param}" templates and
// guarantees a leading slash. Already-canonical paths pass through unchanged.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") && len(s) > 1 {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

// PathParamNames extracts the template parameter names from a canonical URI,
// in order of appearance.
func PathParamNames(uri string) []string {
	var names []string
	for _, seg := range strings.Split(uri, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2 {
			names = append(names, seg[1:len(seg)-1])
		}
	}
	return names
}
