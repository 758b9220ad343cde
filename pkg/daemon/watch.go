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

package daemon

import (
	"context"

	lflog "github.com/tombee/lifeline/internal/log"
	"github.com/tombee/lifeline/internal/watch"
)

// startWatcher reloads the worker when one of Config.WatchPaths changes.
// Triggers share the reload rate limit with the reload signal.
func (d *Daemon) startWatcher(ctx context.Context, rs *runState) error {
	files := make([]string, 0, len(d.cfg.WatchPaths))
	for _, p := range d.cfg.WatchPaths {
		files = append(files, d.cfg.jailPath(p))
	}
	w, err := watch.New(files, watch.WithLogger(lflog.WithComponent(d.logger, "watcher")))
	if err != nil {
		return err
	}
	go func() {
		_ = w.Run(ctx, func(events []watch.Event) {
			paths := make([]string, 0, len(events))
			for _, ev := range events {
				paths = append(paths, ev.Path)
			}
			if rs.requestReload() {
				d.logger.Info("watched files changed, reloading", "paths", paths)
			} else {
				d.logger.Debug("watched files changed, reload request dropped", "paths", paths)
			}
		})
	}()
	return nil
}
