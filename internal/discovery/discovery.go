// Package discovery filters the analyzed service's route table and builds
// one analysis context per surviving (route, method) pair.
package discovery

import (
	"context"
	"go/ast"
	"go/types"
	"log/slog"
	"strings"

	"github.com/routelens/routelens/internal/astcache"
	"github.com/routelens/routelens/internal/domain"
)

// FileResolver locates the file declaring a handler when the route record
// does not carry one. The goscan adapter implements it from its source
// index.
type FileResolver interface {
	ResolveHandlerFile(ref domain.HandlerRef) (string, bool)
}

// Discoverer turns route records into analysis contexts. Everything it
// cannot resolve about a handler degrades to a zero field; extractors are
// written to cope with partial contexts.
type Discoverer struct {
	logger   *slog.Logger
	cache    *astcache.Cache
	filter   *routeFilter
	resolver FileResolver
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithFileResolver installs a handler-file resolver consulted for routes
// whose records carry no file path.
func WithFileResolver(r FileResolver) Option {
	return func(d *Discoverer) { d.resolver = r }
}

// New creates a Discoverer over the shared source cache.
func New(logger *slog.Logger, cache *astcache.Cache, cfg Config, opts ...Option) *Discoverer {
	d := &Discoverer{
		logger: logger.With("component", "discovery"),
		cache:  cache,
		filter: newRouteFilter(cfg),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover filters the route table and builds contexts in table order. A
// (method, URI) pair seen twice keeps its first record. The only error is
// context cancellation.
func (d *Discoverer) Discover(ctx context.Context, routes []domain.RouteInfo) ([]domain.AnalysisContext, error) {
	seen := make(map[string]struct{})
	out := make([]domain.AnalysisContext, 0, len(routes))
	for _, route := range routes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, reason := d.filter.allow(route)
		if !ok {
			d.logger.Debug("Route excluded.",
				slog.String("uri", route.URI),
				slog.String("reason", reason))
			continue
		}
		for _, method := range route.Methods {
			method = strings.ToUpper(method)
			if !d.filter.allowMethod(method) {
				continue
			}
			key := domain.EndpointKey(method, route.URI)
			if _, dup := seen[key]; dup {
				d.logger.Debug("Duplicate endpoint dropped.", slog.String("endpoint", key))
				continue
			}
			seen[key] = struct{}{}
			out = append(out, d.buildContext(route, method))
		}
	}
	d.logger.Info("Discovery complete.",
		slog.Int("routes", len(routes)),
		slog.Int("endpoints", len(out)))
	return out, nil
}

func (d *Discoverer) buildContext(route domain.RouteInfo, method string) domain.AnalysisContext {
	ac := domain.AnalysisContext{
		Route:       route,
		Method:      method,
		Annotations: domain.AnnotationSet{},
	}
	file := route.Handler.File
	if file == "" && d.resolver != nil && route.Handler.Func != "" {
		if resolved, ok := d.resolver.ResolveHandlerFile(route.Handler); ok {
			file = resolved
			ac.Route.Handler.File = resolved
		}
	}
	if file == "" {
		return ac
	}

	if src, ok := d.cache.File(file); ok {
		ac.Source = src
	} else {
		d.logger.Debug("Handler source unavailable.",
			slog.String("file", file),
			slog.String("endpoint", ac.Key()))
	}
	if digest, ok := d.cache.Digest(file); ok {
		ac.Digest = digest
		if fd, found := digest.FuncFor(ac.Route.Handler); found {
			for _, ann := range fd.Directives {
				ac.Annotations.Add(ann)
			}
			ac.Handler.Receiver = fd.Receiver
			ac.Handler.Results = fd.ReturnTypes
		}
	}
	if decl := ac.HandlerDecl(); decl != nil {
		ac.Handler = handlerMeta(decl, ac.Route.Handler.Type)
	}
	return ac
}

func handlerMeta(fn *ast.FuncDecl, receiver string) domain.HandlerMeta {
	meta := domain.HandlerMeta{Receiver: receiver}
	meta.Params = fieldTypes(fn.Type.Params)
	meta.Results = fieldTypes(fn.Type.Results)
	return meta
}

func fieldTypes(fields *ast.FieldList) []string {
	if fields == nil {
		return nil
	}
	var out []string
	for _, field := range fields.List {
		typ := types.ExprString(field.Type)
		n := len(field.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			out = append(out, typ)
		}
	}
	return out
}
