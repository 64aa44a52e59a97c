// Package astcache parses handler source files once and serves the parsed
// tree and its digest to every analyzer that asks. The in-process tier keys
// on absolute path and invalidates on mtime; an optional disk tier persists
// digests between runs.
package astcache

import (
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/routelens/routelens/internal/domain"
)

// Stats counts cache traffic for the build summary.
type Stats struct {
	Hits   int
	Misses int
}

type entry struct {
	srcPath string
	mtime   time.Time
	parsed  bool
	// src is nil for files that failed to parse; the negative entry stops
	// repeated parse attempts within one run.
	src    *domain.ParsedSource
	digest *domain.SourceDigest
}

// Cache is the two-tier source cache. The zero value is not usable; New.
type Cache struct {
	logger *slog.Logger

	mu    sync.Mutex
	files map[string]*entry
	disk  *DiskTier
	stats Stats
}

// New creates a Cache. disk may be nil to run memory-only.
func New(logger *slog.Logger, disk *DiskTier) *Cache {
	return &Cache{
		logger: logger.With("component", "astcache"),
		files:  make(map[string]*entry),
		disk:   disk,
	}
}

// File returns the parsed source for path. Within one process the same
// instance comes back for an unchanged file. A file that cannot be read or
// parsed yields (nil, false); the failure is remembered until the file
// changes.
func (c *Cache) File(path string) (*domain.ParsedSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(path)
	if !ok {
		return nil, false
	}
	if !e.parsed {
		c.parse(e)
	}
	return e.src, e.src != nil
}

// Digest returns the source digest for path, consulting the memory tier,
// then the disk tier, then a fresh parse.
func (c *Cache) Digest(path string) (*domain.SourceDigest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(path)
	if !ok {
		return nil, false
	}
	if e.digest != nil {
		return e.digest, true
	}
	if c.disk != nil && !e.parsed {
		if d, ok := c.disk.Load(e.srcPath, e.mtime); ok {
			e.digest = d
			return d, true
		}
	}
	if !e.parsed {
		c.parse(e)
	}
	if e.src == nil {
		return nil, false
	}
	e.digest = BuildDigest(e.src)
	if c.disk != nil {
		c.disk.Store(e.srcPath, e.mtime, e.digest)
	}
	return e.digest, true
}

// Reset drops the memory tier. The disk tier survives; its entries expire by
// TTL and mtime.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = make(map[string]*entry)
	c.stats = Stats{}
}

// Stats returns a copy of the traffic counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// lookup resolves the memory entry for path, invalidating on mtime change.
// Callers hold c.mu.
func (c *Cache) lookup(path string) (*entry, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		c.logger.Debug("Cannot resolve source path.", slog.String("path", path), slog.Any("error", err))
		return nil, false
	}
	fi, err := os.Stat(abs)
	if err != nil {
		c.logger.Debug("Cannot stat source file.", slog.String("path", abs), slog.Any("error", err))
		return nil, false
	}
	if e, ok := c.files[abs]; ok && e.mtime.Equal(fi.ModTime()) {
		c.stats.Hits++
		return e, true
	}
	c.stats.Misses++
	e := &entry{srcPath: abs, mtime: fi.ModTime()}
	c.files[abs] = e
	return e, true
}

// parse fills the entry from disk. Parse failures leave a negative entry so
// extractors see "no static information" instead of an error.
func (c *Cache) parse(e *entry) {
	e.parsed = true
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, e.srcPath, nil, parser.ParseComments)
	if err != nil {
		c.logger.Debug("Source file did not parse, continuing without it.",
			slog.String("path", e.srcPath), slog.Any("error", err))
		return
	}
	e.src = &domain.ParsedSource{
		Path:    e.srcPath,
		ModTime: e.mtime,
		Fset:    fset,
		File:    file,
	}
}
