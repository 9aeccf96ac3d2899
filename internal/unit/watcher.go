package unit

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher delivers unit batches as new export files land in a directory.
// Used by watch mode: the decomposition side drops export JSON files and
// each file is orchestrated as its own batch.
type Watcher struct {
	dir    string
	logger *zap.Logger
}

// NewWatcher creates a watcher for the given directory.
func NewWatcher(dir string, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dir: dir, logger: logger}
}

// Watch blocks until ctx is done, invoking handle with the units of every
// export file created or rewritten under the directory. Handler errors are
// logged, not fatal: a malformed export must not stop the watch loop.
func (w *Watcher) Watch(ctx context.Context, handle func(path string, units []Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching for decomposition exports", zap.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".json") {
				continue
			}
			units, err := LoadExport(ev.Name)
			if err != nil {
				w.logger.Warn("Skipping export", zap.String("path", ev.Name), zap.Error(err))
				continue
			}
			if err := handle(ev.Name, units); err != nil {
				w.logger.Error("Batch failed", zap.String("path", ev.Name), zap.Error(err))
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}
