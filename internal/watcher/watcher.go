// Package watcher rebuilds the index when the documents directory changes.
// Events are debounced so that copying a batch of PDFs triggers a single
// rebuild once the directory settles.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/tutor-go/internal/ingestion"
	"github.com/54b3r/tutor-go/internal/logging"
)

// DefaultDebounce is the quiet period after the last event before a rebuild.
const DefaultDebounce = 2 * time.Second

// RebuildFunc rebuilds the index from the documents directory.
type RebuildFunc func(ctx context.Context) (*ingestion.Report, error)

// Watcher watches one directory for PDF changes.
type Watcher struct {
	dir      string
	debounce time.Duration
	rebuild  RebuildFunc
}

// New constructs a Watcher for dir. A non-positive debounce selects
// DefaultDebounce.
func New(dir string, debounce time.Duration, rebuild RebuildFunc) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watcher: directory must not be empty")
	}
	if rebuild == nil {
		return nil, fmt.Errorf("watcher: rebuild func must not be nil")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{dir: dir, debounce: debounce, rebuild: rebuild}, nil
}

// relevant reports whether ev can change the set or content of PDFs.
func relevant(ev fsnotify.Event) bool {
	if !ingestion.IsPDF(ev.Name) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// Run watches until ctx is cancelled. Rebuilds run on the Run goroutine, so
// they never overlap; events arriving during a rebuild schedule another.
func (w *Watcher) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", w.dir, err)
	}
	log.Info("watcher: watching documents", slog.String("dir", w.dir), slog.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			log.Debug("watcher: event", slog.String("op", ev.Op.String()), slog.String("path", ev.Name))
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher: fsnotify error", slog.Any("error", err))

		case <-timer.C:
			w.runRebuild(ctx, log)
		}
	}
}

// runRebuild performs one rebuild and logs its outcome.
func (w *Watcher) runRebuild(ctx context.Context, log *slog.Logger) {
	start := time.Now()
	report, err := w.rebuild(ctx)
	if err != nil {
		log.Error("watcher: rebuild failed", slog.Any("error", err))
		return
	}
	log.Info("watcher: index rebuilt",
		slog.Int("documents", report.Total),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("chunks", report.Chunks),
		slog.Duration("duration", time.Since(start)),
	)
}
