// Package goscan discovers routes heuristically by scanning Go source for
// router registration calls such as r.Get("/users", h) or
// mux.HandleFunc("GET /users", h). It understands group prefixes built via
// Group(...) assignments and resolves handler declarations to files through
// an index of every function declaration it saw.
package goscan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/routelens/routelens/internal/astcache"
	"github.com/routelens/routelens/internal/domain"
)

// Scanner implements the route source port by walking a source tree.
type Scanner struct {
	logger *slog.Logger
	cache  *astcache.Cache
	root   string

	// index maps bare function names to their declaration sites, filled
	// during the last Routes call.
	index map[string][]declSite
}

type declSite struct {
	pkg  string
	recv string
	file string
	line int
}

// New creates a Scanner rooted at the given directory.
func New(logger *slog.Logger, cache *astcache.Cache, root string) *Scanner {
	return &Scanner{
		logger: logger.With("component", "goscan"),
		cache:  cache,
		root:   root,
		index:  make(map[string][]declSite),
	}
}

// Name identifies the source in logs and stats.
func (s *Scanner) Name() string { return "goscan" }

// Routes walks the tree, scans every non-test Go file, and returns the
// registrations found in file-walk order. Files that fail to parse are
// skipped.
func (s *Scanner) Routes(ctx context.Context) ([]domain.RouteInfo, error) {
	s.index = make(map[string][]declSite)
	var routes []domain.RouteInfo

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if skipDir(d.Name()) && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		src, ok := s.cache.File(path)
		if !ok {
			s.logger.Debug("Skipping unparsable file.", slog.String("file", path))
			return nil
		}
		s.indexDecls(src)
		routes = append(routes, scanFile(src)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.root, err)
	}

	for i := range routes {
		s.resolveHandler(&routes[i].Handler)
	}
	s.logger.Info("Source scan complete.",
		slog.String("root", s.root),
		slog.Int("routes", len(routes)))
	return routes, nil
}

// ResolveHandlerFile resolves a handler reference against the declaration
// index built by the last Routes call. It satisfies the discovery resolver
// interface.
func (s *Scanner) ResolveHandlerFile(ref domain.HandlerRef) (string, bool) {
	site, ok := s.lookup(ref)
	if !ok {
		return "", false
	}
	return site.file, true
}

func (s *Scanner) lookup(ref domain.HandlerRef) (declSite, bool) {
	sites := s.index[ref.Func]
	var match *declSite
	for i := range sites {
		if ref.Type != "" && sites[i].recv != ref.Type {
			continue
		}
		if ref.Package != "" && sites[i].pkg != ref.Package {
			continue
		}
		if match != nil {
			// Ambiguous name, refuse to guess.
			return declSite{}, false
		}
		match = &sites[i]
	}
	if match == nil {
		return declSite{}, false
	}
	return *match, true
}

func (s *Scanner) resolveHandler(ref *domain.HandlerRef) {
	if ref.Func == "" || ref.File != "" {
		return
	}
	site, ok := s.lookup(*ref)
	if !ok {
		return
	}
	ref.File = site.file
	ref.Line = site.line
	if ref.Type == "" {
		ref.Type = site.recv
	}
	if ref.Package == "" {
		ref.Package = site.pkg
	}
}

func skipDir(name string) bool {
	if name == "vendor" || name == "testdata" || name == "third_party" || name == "node_modules" {
		return true
	}
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}
