package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/routelens/routelens/internal/domain"
)

const defaultPollInterval = 2 * time.Second

// WatchUseCase reruns the generate use case whenever a watched input
// changes. Change detection is by content hash polled at a fixed interval,
// so editors that rewrite a file with identical bytes do not trigger
// builds.
type WatchUseCase struct {
	generate *GenerateDocsUseCase
	paths    []string
	interval time.Duration
	logger   *slog.Logger
}

// NewWatchUseCase creates the watcher. paths are the static inputs to
// watch (route dumps, proto files, capture directories); handler files
// referenced by the last build are watched automatically.
func NewWatchUseCase(generate *GenerateDocsUseCase, paths []string, interval time.Duration, logger *slog.Logger) *WatchUseCase {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &WatchUseCase{
		generate: generate,
		paths:    paths,
		interval: interval,
		logger:   logger.With("usecase", "Watch"),
	}
}

// Run builds once, then polls until ctx is cancelled. A failing initial
// build is fatal; later rebuild failures are logged and polling continues.
// Cancellation is cooperative: it is observed between polls, and an
// in-flight rebuild always finishes.
func (uc *WatchUseCase) Run(ctx context.Context) error {
	// Only the poll loop observes ctx; builds run to completion.
	buildCtx := context.WithoutCancel(ctx)

	result, err := uc.generate.Execute(buildCtx)
	if err != nil {
		return fmt.Errorf("initial build failed: %w", err)
	}
	snapshot := uc.snapshot(result)

	uc.logger.Info("Watching for changes.",
		slog.Duration("interval", uc.interval),
		slog.Int("paths", len(uc.paths)))

	ticker := time.NewTicker(uc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("Watch loop stopping.")
			return ctx.Err()
		case <-ticker.C:
			next := uc.snapshot(result)
			if next == snapshot {
				continue
			}
			uc.logger.Info("Change detected, rebuilding.")
			rebuilt, err := uc.generate.Execute(buildCtx)
			if err != nil {
				// A broken input rebuilds once per change, not once
				// per tick.
				uc.logger.Error("Rebuild failed.", slog.Any("error", err))
				snapshot = next
				continue
			}
			result = rebuilt
			snapshot = uc.snapshot(result)
		}
	}
}

// snapshot hashes every watched file into one digest. Unreadable files
// hash as missing, so deleting one registers as a change.
func (uc *WatchUseCase) snapshot(result *domain.BuildResult) string {
	files := make(map[string]struct{})
	for _, p := range uc.paths {
		collectWatched(files, p)
	}
	if result != nil {
		for i := range result.Endpoints {
			if f := result.Endpoints[i].Route.Handler.File; f != "" {
				files[f] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			fmt.Fprintf(h, "%s missing\n", name)
			continue
		}
		sum := sha256.Sum256(data)
		fmt.Fprintf(h, "%s %s\n", name, hex.EncodeToString(sum[:]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// collectWatched expands one watch path into files. Directories are walked
// with the same skip rules as the source scanner, keeping only extensions
// that can affect a build.
func collectWatched(files map[string]struct{}, path string) {
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		files[path] = struct{}{}
		return
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if p != path && (name == "vendor" || name == "testdata" || name == "third_party" || name == "node_modules" ||
				strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(p) {
		case ".go", ".json", ".yaml", ".yml", ".proto":
			files[p] = struct{}{}
		}
		return nil
	})
}
