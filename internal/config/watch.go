package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CredentialsWatcher monitors a single credentials file and invokes the
// supplied callback whenever its contents change. Stop releases the
// underlying filesystem watch.
type CredentialsWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *CredentialsWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchCredentialsFile wires fsnotify around path and invokes onChange with
// the file's current contents on start and on every subsequent write. path
// must already exist.
func WatchCredentialsFile(ctx context.Context, path string, onChange func([]byte), onError func(error)) (*CredentialsWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch credentials requires a change callback")
	}
	if path == "" {
		return nil, fmt.Errorf("config: watch credentials requires a path")
	}

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve credentials path: %w", err)
	}
	resolved = filepath.Clean(resolved)

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch credentials: %w", err)
	}

	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(resolved), err)
	}

	contents, err := os.ReadFile(resolved)
	if err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("config: read credentials %s: %w", resolved, err)
	}
	onChange(contents)

	done := make(chan struct{})
	watch := &CredentialsWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch credentials close: %w", err))
			}
		}()

		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != resolved {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if onError != nil {
						onError(fmt.Errorf("config: credentials file %s removed", resolved))
					}
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				contents, err := os.ReadFile(resolved)
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						continue
					}
					if onError != nil {
						onError(fmt.Errorf("config: reread credentials %s: %w", resolved, err))
					}
					continue
				}
				onChange(contents)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return watch, nil
}
