// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bjeremy23/jibberish/internal/log"
)

// Reloader applies a new server set. *Manager implements it.
type Reloader interface {
	Reload(ctx context.Context, servers []ServerConfig) (*DiscoveryReport, error)
}

// Watcher reloads the manager when the servers file changes.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename keep triggering events.
type Watcher struct {
	// fsWatcher is the underlying filesystem watcher
	fsWatcher *fsnotify.Watcher

	// reloader receives the reparsed servers
	reloader Reloader

	// path is the absolute servers file path
	path string

	// logger is used for structured logging
	logger *slog.Logger

	// debounceDelay is the quiet period before a reload
	debounceDelay time.Duration

	// onReload is called after every reload attempt (optional)
	onReload func(*DiscoveryReport, error)

	// pending is the debounce timer, nil when idle
	pending *time.Timer

	// mu protects pending
	mu sync.Mutex

	// ctx is the watcher's lifecycle context
	ctx context.Context

	// cancel stops the watcher
	cancel context.CancelFunc

	// wg tracks active goroutines
	wg sync.WaitGroup
}

// WatcherConfig configures the servers file watcher.
type WatcherConfig struct {
	// Path is the servers file to watch (required)
	Path string

	// Reloader is notified of changes (required)
	Reloader Reloader

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay is the delay before reloading after a change (defaults to 300ms)
	DebounceDelay time.Duration

	// OnReload observes reload outcomes (optional)
	OnReload func(*DiscoveryReport, error)
}

// NewWatcher starts watching the servers file.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Reloader == nil {
		return nil, fmt.Errorf("reloader is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("servers file path is required")
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.Path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 300 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		reloader:      cfg.Reloader,
		path:          absPath,
		logger:        log.WithComponent(cfg.Logger, "mcp-watcher"),
		debounceDelay: debounceDelay,
		onReload:      cfg.OnReload,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	w.logger.Debug("watching servers file", "path", absPath)
	return w, nil
}

// processEvents filters events down to the servers file.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				w.logger.Debug("servers file changed", "op", event.Op.String())
				w.schedule()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// schedule resets the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, w.reload)
}

// reload reparses the servers file and hands it to the reloader. A file that
// cannot be read leaves the current servers in place.
func (w *Watcher) reload() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}

	parsed, err := LoadServersFile(w.path)
	if err != nil {
		w.logger.Warn("servers file unreadable, keeping current servers", "path", w.path, "error", err)
		w.notify(nil, err)
		return
	}
	for _, perr := range parsed.Errors {
		w.logger.Warn("invalid server entry", "error", perr)
	}

	w.logger.Info("reloading servers file", "path", w.path, "servers", len(parsed.Servers))
	report, err := w.reloader.Reload(w.ctx, parsed.Servers)
	if err != nil {
		w.logger.Warn("reload finished with configuration errors", "error", err)
	}
	w.notify(report, err)
}

func (w *Watcher) notify(report *DiscoveryReport, err error) {
	if w.onReload != nil {
		w.onReload(report, err)
	}
}

// Close shuts down the watcher.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
