package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports document files in a directory once they stop changing.
type Watcher struct {
	dir         string
	ext         string
	stableAfter time.Duration
	logger      *slog.Logger
}

func NewWatcher(dir, ext string, stableAfter time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:         dir,
		ext:         ext,
		stableAfter: stableAfter,
		logger:      logger,
	}
}

// Watch sends the path of every document file that has seen no write for the
// stable period, starting with the files already present. It blocks until ctx
// is done. The caller owns fileChan.
func (w *Watcher) Watch(ctx context.Context, fileChan chan<- string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("start monitoring folder", "dir", w.dir, "stable_after", w.stableAfter)
	defer w.logger.Info("file watcher stopped")

	// last write seen per file
	fileLastSeen := make(map[string]time.Time)

	existing, err := ListDocuments(w.dir, w.ext)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, path := range existing {
		fileLastSeen[path] = now
	}

	ticker := time.NewTicker(w.tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isDocument(filepath.Base(event.Name), w.ext) {
				continue
			}
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(fileLastSeen, event.Name)
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				if _, tracked := fileLastSeen[event.Name]; !tracked {
					w.logger.Debug("new file detected", "file", event.Name)
				}
				fileLastSeen[event.Name] = time.Now()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "err", err)

		case <-ticker.C:
			for _, path := range w.ready(fileLastSeen) {
				delete(fileLastSeen, path)
				if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
					continue
				}
				select {
				case fileChan <- path:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// ready returns the tracked files that are stable, sorted.
func (w *Watcher) ready(fileLastSeen map[string]time.Time) []string {
	var paths []string
	for path, last := range fileLastSeen {
		if time.Since(last) >= w.stableAfter {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	return paths
}

func (w *Watcher) tick() time.Duration {
	d := w.stableAfter / 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}
