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
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/tombee/lifeline/internal/fdset"
	"github.com/tombee/lifeline/internal/lifecycle"
	lflog "github.com/tombee/lifeline/internal/log"
	"github.com/tombee/lifeline/internal/stage"
)

// Daemon is one daemon definition and, inside the worker, the running
// instance's state.
type Daemon struct {
	cfg  Config
	args []string

	logger   *slog.Logger
	reporter Reporter
	out      io.Writer
	mw       *lflog.ActionMiddleware
	registry *registry

	// fds is the descriptor snapshot taken first thing in New.
	fds *fdset.Set

	// marker is set when this process was re-executed as a stage.
	marker stage.Marker
	staged bool

	pidfile *lifecycle.PIDFileManager
	lock    *lifecycle.ControlLock
	audit   *lifecycle.LifecycleLogger

	origWD string
	exit   func(code int)

	reloadMu sync.Mutex
	runMu    sync.Mutex
	run      *runState
}

// New builds a daemon from cfg. It records the open file descriptors
// before doing anything else, so construct the daemon early: descriptors
// opened afterwards are never closed by CloseOpenFiles.
//
// In a process re-executed as a daemon stage, New also consumes the stage
// marker from the environment; the following DoAction call continues that
// stage.
func New(cfg Config) (*Daemon, error) {
	fds := fdset.Snapshot()

	marker, staged, err := stage.Consume()
	if err != nil {
		return nil, err
	}

	cfg.Actions = slices.Clone(cfg.Actions)
	cfg.WatchPaths = slices.Clone(cfg.WatchPaths)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	reg, err := newRegistry(cfg.Actions)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		args:     slices.Clone(os.Args),
		reporter: cfg.Reporter,
		out:      os.Stdout,
		registry: reg,
		fds:      fds,
		marker:   marker,
		staged:   staged,
		exit:     os.Exit,
	}
	if d.reporter == nil {
		d.reporter = NewTextReporter()
	}
	d.origWD, _ = os.Getwd()

	base := cfg.Logger
	if base == nil {
		base = lflog.Discard()
	}
	stageName := stage.Caller.String()
	if staged {
		stageName = marker.Stage.String()
	}
	d.logger = lflog.WithAttempt(lflog.WithStage(base, cfg.Prog, stageName), marker.AttemptID)
	d.mw = lflog.NewActionMiddleware(d.logger)

	d.useView(cfg.hostPath)
	if d.pidfile != nil {
		d.lock = lifecycle.NewControlLock(d.pidfile.Path(),
			lifecycle.WithLockOwner(d.cfg.Umask, d.cfg.uid(), d.cfg.gid()))
	}
	return d, nil
}

// useView points the PID file and the lifecycle log at the paths seen
// through view: the host view before chroot, the jail view after.
func (d *Daemon) useView(view func(string) string) {
	d.pidfile = nil
	if d.cfg.PIDFile != "" {
		opts := []lifecycle.PIDFileOption{
			lifecycle.WithUmask(d.cfg.Umask),
			lifecycle.WithOwner(d.cfg.uid(), d.cfg.gid()),
			lifecycle.WithStaleHandler(d.onStalePID),
		}
		d.pidfile = lifecycle.NewPIDFileManager(view(d.cfg.PIDFile), opts...)
	}
	d.audit = lifecycle.NewLifecycleLogger(view(d.cfg.LifecycleLog), d.cfg.Prog).
		WithOwner(d.cfg.Umask, d.cfg.uid(), d.cfg.gid())
}

func (d *Daemon) onStalePID(path string, pid int, reason string) {
	d.logger.Warn("removed stale PID file", "path", path, "recorded_pid", pid, "reason", reason)
	_ = d.audit.LogStalePID(pid, reason)
	if pid == 0 {
		// Only broken files are shown to the operator.
		d.reporter.Warn(reason)
	}
}

// Prog returns the daemon's program name.
func (d *Daemon) Prog() string {
	return d.cfg.Prog
}

// Config returns a copy of the normalised configuration.
func (d *Daemon) Config() Config {
	c := d.cfg
	c.Actions = slices.Clone(c.Actions)
	c.WatchPaths = slices.Clone(c.WatchPaths)
	return c
}

// Logger returns the daemon's logger, tagged with the current stage.
func (d *Daemon) Logger() *slog.Logger {
	return d.logger
}

// PIDFile returns the PID file path as seen by this process, or "".
func (d *Daemon) PIDFile() string {
	if d.pidfile == nil {
		return ""
	}
	return d.pidfile.Path()
}

// IsWorker reports whether this process is the running worker.
func (d *Daemon) IsWorker() bool {
	return d.currentRun() != nil
}

// SetOutput sets where action results such as status lines are written.
// The default is os.Stdout.
func (d *Daemon) SetOutput(w io.Writer) {
	d.out = w
}
