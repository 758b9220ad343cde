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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// Worker is the long-running routine a daemon runs. The context is cancelled
// when the daemon is asked to stop or is being replaced by a reload. Return
// nil for a normal shutdown, an *ExitError to choose the exit status, or any
// other error to die with status 127.
type Worker func(ctx context.Context) error

// ShutdownHandler is notified once, on every catchable shutdown path, before
// the PID file is removed and the process exits.
type ShutdownHandler interface {
	OnShutdown(reason string, code int)
}

// ShutdownFunc adapts a function to ShutdownHandler.
type ShutdownFunc func(reason string, code int)

// OnShutdown calls f(reason, code).
func (f ShutdownFunc) OnShutdown(reason string, code int) {
	f(reason, code)
}

// Config describes one daemon. It is copied by New and never modified
// afterwards. Start from DefaultConfig: several zero values (Detach, Umask)
// are meaningful settings rather than "unset".
type Config struct {
	// Prog is the name used in messages. Defaults to the base name of
	// os.Args[0].
	Prog string

	// Worker is the routine to run. Required for start and restart.
	Worker Worker

	// Detach runs the worker in the background. It is ignored when detaching
	// is unnecessary: running as PID 1, started by init outside a container,
	// or started with a socket on stdin (inetd, systemd socket activation).
	Detach bool

	// PIDFile names the running instance. Required for stop, restart,
	// status and reload.
	PIDFile string

	// WorkDir is the worker's working directory. Defaults to "/".
	WorkDir string

	// StdoutFile and StderrFile receive the worker's output when detached.
	// Unset streams go to /dev/null.
	StdoutFile string
	StderrFile string

	// ChrootDir jails the worker. PIDFile, WorkDir, StdoutFile, StderrFile
	// and LifecycleLog are then interpreted inside the jail even when
	// absolute.
	ChrootDir string

	// UID and GID switch the worker's identity. Nil keeps the current one.
	UID *int
	GID *int

	// Umask is the worker's file creation mask.
	Umask int

	// CloseOpenFiles closes, in the detached worker, every descriptor that
	// was open when New was called, except the standard streams.
	CloseOpenFiles bool

	// Shutdown is notified before the worker exits.
	Shutdown ShutdownHandler

	// StopTimeout bounds how long stop waits after SIGTERM.
	StopTimeout time.Duration

	// KillTimeout bounds how long a forced stop waits after SIGKILL.
	KillTimeout time.Duration

	// ProbeInterval is how long a new worker must survive before start
	// reports success.
	ProbeInterval time.Duration

	// Logger receives structured diagnostics. Defaults to a discarding
	// logger.
	Logger *slog.Logger

	// LifecycleLog, when set, is a JSON-lines audit file of lifecycle
	// events.
	LifecycleLog string

	// ProcTitle sets descriptive process titles on the intermediate and
	// worker processes.
	ProcTitle bool

	// WatchPaths are files whose modification makes the worker reload.
	WatchPaths []string

	// ReloadSignal makes the worker reload. Defaults to SIGHUP.
	ReloadSignal syscall.Signal

	// Actions are custom actions, registered after the built-ins.
	Actions []Action

	// Reporter receives operator-facing progress messages. Defaults to
	// plain text on stdout and stderr.
	Reporter Reporter
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Detach:        true,
		WorkDir:       "/",
		Umask:         0o022,
		StopTimeout:   10 * time.Second,
		KillTimeout:   5 * time.Second,
		ProbeInterval: time.Second,
		ReloadSignal:  syscall.SIGHUP,
	}
}

// normalize fills defaults and validates c in place.
func (c *Config) normalize() error {
	if c.Prog == "" {
		c.Prog = filepath.Base(os.Args[0])
	}
	if c.WorkDir == "" {
		c.WorkDir = "/"
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 5 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = time.Second
	}
	if c.ReloadSignal == 0 {
		c.ReloadSignal = syscall.SIGHUP
	}
	if c.Umask < 0 || c.Umask > 0o777 {
		return &lferrors.ConfigError{Key: "umask", Reason: fmt.Sprintf("%#o is not a valid mode mask", c.Umask)}
	}
	switch c.ReloadSignal {
	case syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGKILL, syscall.SIGSTOP:
		return &lferrors.ConfigError{Key: "reload_signal", Reason: lferrors.SignalName(c.ReloadSignal) + " cannot be used for reload"}
	}

	if c.ChrootDir != "" {
		root, err := filepath.Abs(c.ChrootDir)
		if err != nil {
			return &lferrors.ConfigError{Key: "chroot_dir", Reason: "cannot resolve path", Cause: err}
		}
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			root = resolved
		}
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			return &lferrors.ConfigError{Key: "chroot_dir", Reason: root + " is not a directory", Cause: err}
		}
		c.ChrootDir = root
		return nil
	}

	for _, p := range []*string{&c.PIDFile, &c.WorkDir, &c.StdoutFile, &c.StderrFile, &c.LifecycleLog} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return &lferrors.ConfigError{Key: "path", Reason: "cannot resolve " + *p, Cause: err}
		}
		*p = abs
	}
	for i, p := range c.WatchPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return &lferrors.ConfigError{Key: "watch", Reason: "cannot resolve " + p, Cause: err}
		}
		c.WatchPaths[i] = abs
	}
	return nil
}

// hostPath maps a daemon path to the caller's view of the filesystem. With a
// chroot the path is always taken relative to the jail.
func (c *Config) hostPath(p string) string {
	if p == "" || c.ChrootDir == "" {
		return p
	}
	return filepath.Join(c.ChrootDir, filepath.Clean("/"+p))
}

// jailPath maps a daemon path to the worker's view after chroot.
func (c *Config) jailPath(p string) string {
	if p == "" || c.ChrootDir == "" {
		return p
	}
	return filepath.Clean("/" + p)
}

func (c *Config) uid() int {
	if c.UID == nil {
		return -1
	}
	return *c.UID
}

func (c *Config) gid() int {
	if c.GID == nil {
		return -1
	}
	return *c.GID
}
