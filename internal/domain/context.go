package domain

import (
	"go/ast"
	"go/token"
	"time"
)

// ParsedSource is a parsed Go file plus the position table needed to read it.
// Instances are owned by the source cache; within one process the cache hands
// out the same instance for an unchanged file.
type ParsedSource struct {
	Path    string
	ModTime time.Time
	Fset    *token.FileSet
	File    *ast.File
}

// FuncDecl locates a function or method declaration in the parsed file.
// recv is the receiver type name, empty for free functions.
func (p *ParsedSource) FuncDecl(recv, name string) *ast.FuncDecl {
	if p == nil || p.File == nil {
		return nil
	}
	for _, decl := range p.File.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Name.Name != name {
			continue
		}
		if recvTypeName(fn) != recv {
			continue
		}
		return fn
	}
	return nil
}

func recvTypeName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	t := fn.Recv.List[0].Type
	if star, ok := t.(*ast.StarExpr); ok {
		t = star.X
	}
	if id, ok := t.(*ast.Ident); ok {
		return id.Name
	}
	return ""
}

// HandlerMeta is the resolved signature of the handler, when the source was
// available. Zero value means unresolved.
type HandlerMeta struct {
	Receiver string
	Params   []string
	Results  []string
}

// AnalysisContext is the unit of work handed to extractors: one route and one
// method, with everything discovery could resolve about the handler. Built
// once per endpoint and treated as read-only by extractors.
type AnalysisContext struct {
	Route  RouteInfo
	Method string
	// Handler is the resolved signature, zero when the source is opaque.
	Handler HandlerMeta
	// Source is the parsed handler file; nil means no static information
	// and extractors degrade to whatever the digest or route record holds.
	Source *ParsedSource
	// Digest is the cached summary of the handler file, nil when
	// unresolved.
	Digest      *SourceDigest
	Annotations AnnotationSet
}

// Key names the endpoint under analysis.
func (c *AnalysisContext) Key() string {
	return EndpointKey(c.Method, c.Route.URI)
}

// FuncDigest resolves the digest entry for the context's handler.
func (c *AnalysisContext) FuncDigest() (FuncDigest, bool) {
	if c.Digest == nil {
		return FuncDigest{}, false
	}
	return c.Digest.FuncFor(c.Route.Handler)
}

// HandlerDecl resolves the handler's AST declaration for deep inspection,
// nil when the source is unavailable or the declaration moved.
func (c *AnalysisContext) HandlerDecl() *ast.FuncDecl {
	if c.Source == nil {
		return nil
	}
	return c.Source.FuncDecl(c.Route.Handler.Type, c.Route.Handler.Func)
}
