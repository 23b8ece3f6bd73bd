package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileMutations is a MutationSource for a saved HTML page: every write to
// the file counts as a mutation batch. Editors that save by rename are
// covered by watching the directory instead of the file.
type FileMutations struct {
	path   string
	logger *zap.Logger
}

func NewFileMutations(path string, logger *zap.Logger) *FileMutations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileMutations{path: filepath.Clean(path), logger: logger}
}

func (f *FileMutations) Subscribe(ctx context.Context, notify, _ func()) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != f.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					f.logger.Debug("file changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
					notify()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Debug("file watcher error", zap.Error(err))
			}
		}
	}()

	stop := func() error {
		close(stopCh)
		<-doneCh
		return watcher.Close()
	}
	return stop, nil
}
