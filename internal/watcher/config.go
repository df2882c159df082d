// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher reports changes to the config file.
package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher calls a function whenever the watched file is written,
// created or renamed into place. It watches the parent directory so that
// editors which save by renaming a temp file are still seen.
type ConfigWatcher struct {
	mu        sync.Mutex
	path      string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	onChange  func(path string)
	closed    bool
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewConfigWatcher starts watching path. onChange runs on its own goroutine
// after debounce has passed without further changes.
func NewConfigWatcher(path string, debounce time.Duration, onChange func(path string)) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	w := &ConfigWatcher{
		path:      absPath,
		watcher:   fsWatcher,
		debouncer: NewDebouncer(debounce),
		onChange:  onChange,
		closeCh:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Path returns the absolute path being watched.
func (w *ConfigWatcher) Path() string { return w.path }

// SetDebounce sets the debounce duration.
func (w *ConfigWatcher) SetDebounce(d time.Duration) {
	w.debouncer.SetDelay(d)
}

// Close stops the watcher and releases resources.
func (w *ConfigWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *ConfigWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher: fsnotify error", "path", w.path, "error", err)
		}
	}
}

func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	// Chmod alone does not change content.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	op := event.Op
	w.debouncer.Trigger(func() {
		slog.Debug("watcher: config changed", "path", w.path, "op", op.String())
		w.onChange(w.path)
	})
}
