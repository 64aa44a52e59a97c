package astcache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/routelens/routelens/internal/domain"
)

// DiskTier persists source digests between runs. Entries key on the source
// path plus its mtime, so editing a file orphans the old entry; orphans and
// entries older than the TTL are removed on sight.
type DiskTier struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewDiskTier creates the tier, making the cache directory as needed.
func NewDiskTier(dir string, ttl time.Duration, logger *slog.Logger) (*DiskTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &DiskTier{dir: dir, ttl: ttl, logger: logger.With("component", "astcache_disk")}, nil
}

// Load reads the digest cached for (path, mtime). Expired or unreadable
// entries are deleted and reported as a miss.
func (d *DiskTier) Load(path string, mtime time.Time) (*domain.SourceDigest, bool) {
	name := d.entryPath(path, mtime)
	fi, err := os.Stat(name)
	if err != nil {
		return nil, false
	}
	if d.ttl > 0 && time.Since(fi.ModTime()) > d.ttl {
		d.remove(name, "expired")
		return nil, false
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, false
	}
	var digest domain.SourceDigest
	err = gob.NewDecoder(f).Decode(&digest)
	f.Close()
	if err != nil {
		d.remove(name, "corrupt")
		return nil, false
	}
	return &digest, true
}

// Store writes the digest for (path, mtime). Failures only cost the next run
// a re-parse, so they log at debug and move on.
func (d *DiskTier) Store(path string, mtime time.Time, digest *domain.SourceDigest) {
	name := d.entryPath(path, mtime)
	tmp, err := os.CreateTemp(d.dir, "entry-*.tmp")
	if err != nil {
		d.logger.Debug("Cannot create cache entry.", slog.Any("error", err))
		return
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(digest); err != nil {
		tmp.Close()
		d.logger.Debug("Cannot encode cache entry.", slog.Any("error", err))
		return
	}
	if err := tmp.Close(); err != nil {
		d.logger.Debug("Cannot close cache entry.", slog.Any("error", err))
		return
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		d.logger.Debug("Cannot move cache entry into place.", slog.Any("error", err))
	}
}

func (d *DiskTier) entryPath(path string, mtime time.Time) string {
	sum := sha256.Sum256([]byte(path + "|" + strconv.FormatInt(mtime.UnixNano(), 10)))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+".gob")
}

func (d *DiskTier) remove(name, reason string) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		d.logger.Debug("Cannot remove cache entry.", slog.String("reason", reason), slog.Any("error", err))
		return
	}
	d.logger.Debug("Removed cache entry.", slog.String("entry", filepath.Base(name)), slog.String("reason", reason))
}
