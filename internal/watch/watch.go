package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// File calls onChange after writes to a single file settle for the
// debounce interval. The parent directory is watched so that
// rename-into-place writes are seen.
type File struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func NewFile(path string, debounce time.Duration, onChange func(), logger *zap.Logger) *File {
	if debounce <= 0 {
		debounce = 150 * time.Millisecond
	}
	return &File{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logger.Named("watch").With(zap.String("path", path)),
	}
}

// Run blocks until ctx is done.
func (f *File) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", f.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			f.stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				f.bump()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (f *File) bump() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, f.onChange)
}

func (f *File) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
}
