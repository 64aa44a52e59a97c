package discovery

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/routelens/routelens/internal/domain"
)

// Config narrows the application configuration to what route filtering
// needs.
type Config struct {
	// ExcludedRoutes holds glob patterns matched against route URIs and
	// names. A leading "!" inverts a pattern; when at least one inverted
	// pattern is present, only routes matching an inverted pattern are
	// kept and the remaining plain patterns still exclude.
	ExcludedRoutes       []string
	ExcludedMethods      []string
	IncludeVendorRoutes  bool
	IncludeClosureRoutes bool
	AutoDetectAPIRoutes  bool
}

var defaultExcludedMethods = []string{"HEAD", "OPTIONS"}

type routeFilter struct {
	include    []string
	exclude    []string
	methods    map[string]struct{}
	vendorOK   bool
	closureOK  bool
	autoDetect bool
}

func newRouteFilter(cfg Config) *routeFilter {
	f := &routeFilter{
		methods:    make(map[string]struct{}),
		vendorOK:   cfg.IncludeVendorRoutes,
		closureOK:  cfg.IncludeClosureRoutes,
		autoDetect: cfg.AutoDetectAPIRoutes,
	}
	for _, p := range cfg.ExcludedRoutes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(p, "!"); ok {
			f.include = append(f.include, rest)
			continue
		}
		f.exclude = append(f.exclude, p)
	}
	excluded := cfg.ExcludedMethods
	if len(excluded) == 0 {
		excluded = defaultExcludedMethods
	}
	for _, m := range excluded {
		f.methods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
	}
	return f
}

// allow reports whether the route survives filtering, with the rejection
// reason for the log line.
func (f *routeFilter) allow(route domain.RouteInfo) (bool, string) {
	if route.Handler.Closure && !f.closureOK {
		return false, "closure handler"
	}
	if !f.vendorOK && underVendor(route.Handler.File) {
		return false, "vendor handler"
	}
	if len(f.include) > 0 && !matchAny(f.include, route) {
		return false, "outside include patterns"
	}
	if matchAny(f.exclude, route) {
		return false, "excluded by pattern"
	}
	// Middleware auto-detection only applies when nothing was included
	// explicitly.
	if len(f.include) == 0 && f.autoDetect {
		if hasMiddleware(route, "web") && !hasMiddleware(route, "api") {
			return false, "web middleware without api"
		}
	}
	return true, ""
}

func (f *routeFilter) allowMethod(method string) bool {
	_, excluded := f.methods[strings.ToUpper(method)]
	return !excluded
}

func matchAny(patterns []string, route domain.RouteInfo) bool {
	for _, p := range patterns {
		if globMatch(p, route.URI) {
			return true
		}
		if route.Name != "" && globMatch(p, route.Name) {
			return true
		}
	}
	return false
}

func underVendor(file string) bool {
	if file == "" {
		return false
	}
	slashed := filepath.ToSlash(file)
	return strings.Contains(slashed, "/vendor/") || strings.Contains(slashed, "/third_party/")
}

func hasMiddleware(route domain.RouteInfo, tag string) bool {
	for _, mw := range route.Middleware {
		name := strings.ToLower(mw)
		if name == tag || strings.HasPrefix(name, tag+":") {
			return true
		}
	}
	return false
}

// globMatch matches slash-separated glob patterns against a URI or route
// name. "**" spans any number of segments; every other segment uses
// path.Match syntax.
func globMatch(pattern, target string) bool {
	pat := strings.Split(strings.Trim(pattern, "/"), "/")
	tgt := strings.Split(strings.Trim(target, "/"), "/")
	return matchSegments(pat, tgt)
}

func matchSegments(pat, tgt []string) bool {
	if len(pat) == 0 {
		return len(tgt) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], tgt) {
			return true
		}
		if len(tgt) == 0 {
			return false
		}
		return matchSegments(pat, tgt[1:])
	}
	if len(tgt) == 0 {
		return false
	}
	if ok, err := path.Match(pat[0], tgt[0]); err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], tgt[1:])
}
