// internal/filebank/watcher.go
package filebank

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher keeps a file bank in step with its directory: writes clear the
// item from every cache level, new files are added, removed files are
// removed
type Watcher struct {
	fb      *Bank
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// NewWatcher watches the root of fb and every directory below it
func NewWatcher(fb *Bank, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new watcher: %w", err)
	}

	fw := &Watcher{
		fb:      fb,
		watcher: w,
		logger:  logger.Named("watcher"),
	}
	if err := fw.addTree(fb.Root()); err != nil {
		_ = w.Close()
		return nil, err
	}
	return fw, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run handles events until ctx is done or the watcher is closed
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		w.created(event.Name)

	case event.Has(fsnotify.Write):
		item, ok := w.fb.ItemPath(event.Name)
		if !ok || !w.fb.Has(item) {
			w.created(event.Name)
			return
		}
		if err := w.fb.ClearFromCache(item); err != nil {
			w.logger.Warn("clear failed", zap.String("item", item), zap.Error(err))
			return
		}
		w.logger.Debug("source changed", zap.String("item", item))

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		rel, err := filepath.Rel(w.fb.Root(), event.Name)
		if err != nil {
			return
		}
		if n := w.fb.RemoveUnder(filepath.ToSlash(rel)); n > 0 {
			w.logger.Debug("source removed", zap.String("path", rel), zap.Int("items", n))
		}
	}
}

func (w *Watcher) created(name string) {
	info, err := os.Stat(name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if err := w.addTree(name); err != nil {
			w.logger.Warn("cannot watch new directory", zap.String("dir", name), zap.Error(err))
		}
		if _, err := w.fb.Scan(name); err != nil {
			w.logger.Warn("scan failed", zap.String("dir", name), zap.Error(err))
		}
		return
	}

	if err := w.fb.AddFile(name); err != nil {
		w.logger.Warn("add failed", zap.String("file", name), zap.Error(err))
		return
	}
	if item, ok := w.fb.ItemPath(name); ok {
		w.logger.Debug("source added", zap.String("item", item))
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
