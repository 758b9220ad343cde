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

package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWindow is the debounce window used when none is given.
const DefaultWindow = 500 * time.Millisecond

var opNames = []struct {
	op   fsnotify.Op
	name string
}{
	{fsnotify.Create, "created"},
	{fsnotify.Write, "modified"},
	{fsnotify.Remove, "deleted"},
	{fsnotify.Rename, "renamed"},
}

// Watcher watches a fixed set of files.
type Watcher struct {
	files  map[string]struct{}
	fsw    *fsnotify.Watcher
	window time.Duration
	logger *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New watches paths. Each path's parent directory must exist; the file
// itself may not exist yet.
func New(paths []string, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		files:  make(map[string]struct{}, len(paths)),
		fsw:    fsw,
		window: DefaultWindow,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "watch"))

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run delivers debounced batches of changes to onChange until ctx is done,
// then releases the watcher. Pending changes are dropped on return.
func (w *Watcher) Run(ctx context.Context, onChange func([]Event)) error {
	deb := NewDebouncer(w.window, onChange)
	defer deb.Stop(false)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if e, ok := w.translate(ev); ok {
				deb.Add(e)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

// translate filters ev to the watched files and names its operation.
// Chmod-only events are ignored.
func (w *Watcher) translate(ev fsnotify.Event) (Event, bool) {
	path := filepath.Clean(ev.Name)
	if _, ok := w.files[path]; !ok {
		return Event{}, false
	}
	for _, o := range opNames {
		if ev.Has(o.op) {
			w.logger.Debug("file event", "op", o.name, "path", path)
			return Event{Path: path, Op: o.name, At: time.Now()}, true
		}
	}
	return Event{}, false
}
