package astcache_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routelens/routelens/internal/astcache"
)

const handlerSrc = `package handlers

import (
	"encoding/json"
	"net/http"
)

type UserView struct {
	ID    int    "json:\"id\""
	Name  string "json:\"name\""
	Email string "json:\"email,omitempty\""
}

type CreateUserRequest struct {
	Name  string "json:\"name\" validate:\"required\""
	Email string "json:\"email\""
}

type UserHandler struct{}

//apidoc:summary Create a user
//apidoc:tag users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	rules := map[string][]string{
		"name":  {"required", "string", "max:255"},
		"email": {"required|email"},
	}
	_ = rules

	var req CreateUserRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	page := r.URL.Query().Get("page")
	_ = page

	view := UserView{ID: 1, Name: req.Name}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(view)
}
`

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCacheServesSameInstanceWithinRun(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := writeSource(t, t.TempDir(), "user.go", handlerSrc)
	cache := astcache.New(newTestLogger(), nil)

	first, ok := cache.File(path)
	require.True(ok)
	second, ok := cache.File(path)
	require.True(ok)
	assert.Same(first, second)
	assert.Same(first.File, second.File)

	stats := cache.Stats()
	assert.Equal(1, stats.Misses)
	assert.Equal(1, stats.Hits)
}

func TestCacheInvalidatesOnModTimeChange(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := writeSource(t, t.TempDir(), "user.go", handlerSrc)
	cache := astcache.New(newTestLogger(), nil)

	first, ok := cache.File(path)
	require.True(ok)

	touched := time.Now().Add(2 * time.Second)
	require.NoError(os.Chtimes(path, touched, touched))

	second, ok := cache.File(path)
	require.True(ok)
	assert.NotSame(first, second)
}

func TestCacheRemembersParseFailure(t *testing.T) {
	assert := assert.New(t)

	path := writeSource(t, t.TempDir(), "broken.go", "package handlers\nfunc {")
	cache := astcache.New(newTestLogger(), nil)

	_, ok := cache.File(path)
	assert.False(ok)
	_, ok = cache.File(path)
	assert.False(ok)

	// the second call must come from the negative entry, not a re-parse
	assert.Equal(1, cache.Stats().Misses)
	assert.Equal(1, cache.Stats().Hits)
}

func TestCacheMissingFile(t *testing.T) {
	assert := assert.New(t)
	cache := astcache.New(newTestLogger(), nil)

	_, ok := cache.File(filepath.Join(t.TempDir(), "nope.go"))
	assert.False(ok)
	_, ok = cache.Digest(filepath.Join(t.TempDir(), "nope.go"))
	assert.False(ok)
}

func TestDigestContents(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := writeSource(t, t.TempDir(), "user.go", handlerSrc)
	cache := astcache.New(newTestLogger(), nil)

	digest, ok := cache.Digest(path)
	require.True(ok)

	fn, ok := digest.Funcs["UserHandler.Create"]
	require.True(ok, "handler method missing from digest")
	assert.Equal("UserHandler", fn.Receiver)

	require.Len(fn.Directives, 2)
	assert.Equal("summary", fn.Directives[0].Name)
	assert.Equal("Create a user", fn.Directives[0].Raw)
	assert.Equal("tag", fn.Directives[1].Name)

	require.Len(fn.RuleLiterals, 1)
	assert.Equal([]string{"required", "string", "max:255"}, fn.RuleLiterals[0].Rules["name"])
	assert.Equal([]string{"required|email"}, fn.RuleLiterals[0].Rules["email"])

	assert.Equal([]string{"CreateUserRequest"}, fn.BindTargets)

	require.Len(fn.QueryKeys, 1)
	assert.Equal("page", fn.QueryKeys[0].Name)

	require.Len(fn.ResponseHints, 1)
	assert.Equal(201, fn.ResponseHints[0].Status)
	assert.Equal("UserView", fn.ResponseHints[0].TypeName)
	assert.False(fn.ResponseHints[0].Array)

	view, ok := digest.Structs["UserView"]
	require.True(ok)
	require.Len(view.Fields, 3)
	assert.Equal("email", view.Fields[2].JSONName)
	assert.True(view.Fields[2].Optional)

	req, ok := digest.Structs["CreateUserRequest"]
	require.True(ok)
	assert.Equal("required", req.Fields[0].Validate)
}

func TestDiskTierServesDigestAcrossProcesses(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	logger := newTestLogger()
	cacheDir := t.TempDir()
	path := writeSource(t, t.TempDir(), "user.go", handlerSrc)

	tier, err := astcache.NewDiskTier(cacheDir, time.Hour, logger)
	require.NoError(err)
	first := astcache.New(logger, tier)
	digest, ok := first.Digest(path)
	require.True(ok)
	require.Contains(digest.Funcs, "UserHandler.Create")

	// sabotage the source but keep its mtime so only the disk entry can
	// explain a successful digest
	fi, err := os.Stat(path)
	require.NoError(err)
	require.NoError(os.WriteFile(path, []byte("not go at all"), 0o644))
	require.NoError(os.Chtimes(path, fi.ModTime(), fi.ModTime()))

	tier2, err := astcache.NewDiskTier(cacheDir, time.Hour, logger)
	require.NoError(err)
	second := astcache.New(logger, tier2)

	fromDisk, ok := second.Digest(path)
	require.True(ok)
	assert.Contains(fromDisk.Funcs, "UserHandler.Create")

	// the tree itself is gone: parsing the sabotaged file fails
	_, ok = second.File(path)
	assert.False(ok)
}

func TestDiskTierDeletesCorruptEntries(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	logger := newTestLogger()
	cacheDir := t.TempDir()
	path := writeSource(t, t.TempDir(), "user.go", handlerSrc)

	tier, err := astcache.NewDiskTier(cacheDir, time.Hour, logger)
	require.NoError(err)
	first := astcache.New(logger, tier)
	_, ok := first.Digest(path)
	require.True(ok)

	entries, err := filepath.Glob(filepath.Join(cacheDir, "*.gob"))
	require.NoError(err)
	require.Len(entries, 1)
	require.NoError(os.WriteFile(entries[0], []byte("garbage"), 0o644))

	second := astcache.New(logger, tier)
	digest, ok := second.Digest(path)
	require.True(ok, "corrupt entry must fall through to a fresh parse")
	assert.Contains(digest.Funcs, "UserHandler.Create")
}

func TestDiskTierExpiresByTTL(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	logger := newTestLogger()
	cacheDir := t.TempDir()
	path := writeSource(t, t.TempDir(), "user.go", handlerSrc)
	fi, err := os.Stat(path)
	require.NoError(err)

	tier, err := astcache.NewDiskTier(cacheDir, time.Hour, logger)
	require.NoError(err)

	cache := astcache.New(logger, tier)
	digest, ok := cache.Digest(path)
	require.True(ok)
	tier.Store(path, fi.ModTime(), digest)

	entries, err := filepath.Glob(filepath.Join(cacheDir, "*.gob"))
	require.NoError(err)
	require.NotEmpty(entries)

	// backdate the entry beyond the TTL
	old := time.Now().Add(-2 * time.Hour)
	for _, e := range entries {
		require.NoError(os.Chtimes(e, old, old))
	}

	_, ok = tier.Load(path, fi.ModTime())
	assert.False(ok)

	left, err := filepath.Glob(filepath.Join(cacheDir, "*.gob"))
	require.NoError(err)
	assert.Empty(left)
}

func TestCacheResetDropsMemoryTier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := writeSource(t, t.TempDir(), "user.go", handlerSrc)
	cache := astcache.New(newTestLogger(), nil)

	first, ok := cache.File(path)
	require.True(ok)
	cache.Reset()
	second, ok := cache.File(path)
	require.True(ok)
	assert.NotSame(first, second)
}
