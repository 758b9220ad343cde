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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/lifeline/internal/lifecycle"
	lflog "github.com/tombee/lifeline/internal/log"
	"github.com/tombee/lifeline/internal/stage"
	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// StartOptions controls Start.
type StartOptions struct {
	// Debug keeps the worker attached to the terminal.
	Debug bool
}

// StopOptions controls Stop.
type StopOptions struct {
	// Timeout overrides Config.StopTimeout when positive.
	Timeout time.Duration

	// Force kills the process with SIGKILL when Timeout elapses.
	Force bool
}

// RestartOptions controls Restart.
type RestartOptions struct {
	Debug   bool
	Timeout time.Duration
	Force   bool
}

// Start launches the worker. Detached, it returns the worker's PID once the
// worker has survived Config.ProbeInterval. Attached, the calling process
// becomes the worker and Start does not return unless setup fails.
func (d *Daemon) Start(ctx context.Context, opts StartOptions) (int, error) {
	if d.cfg.Worker == nil {
		return 0, lferrors.Newf(lferrors.KindStartFailed, "start", "no worker is defined for %s", d.cfg.Prog)
	}
	if d.pidfile != nil {
		if err := d.lock.Lock(ctx); err != nil {
			return 0, lferrors.WrapKind(err, lferrors.KindStartFailed, "start", "unable to take control lock")
		}
		defer d.lock.Unlock()
	}
	return d.startLocked(ctx, opts)
}

func (d *Daemon) startLocked(ctx context.Context, opts StartOptions) (int, error) {
	if d.pidfile != nil {
		pid, running, err := d.pidfile.Current()
		if err != nil {
			return 0, lferrors.WrapKind(err, lferrors.KindPIDFile, "start", "unable to read PID file")
		}
		if running {
			_ = d.audit.LogAlreadyRunning(pid)
			return pid, &lferrors.DaemonError{Kind: lferrors.KindAlreadyRunning, Op: "start", Prog: d.cfg.Prog, PID: pid}
		}
	}

	// Worker directories get the worker's ownership before anything is
	// written into them.
	if err := d.makeDirs(); err != nil {
		return 0, err
	}

	attemptID := uuid.NewString()
	logger := lflog.WithAttempt(d.logger, attemptID)
	_ = d.audit.LogStart(attemptID, d.args[1:])

	detach := d.cfg.Detach && !opts.Debug && detachNecessary()
	logger.Debug("starting", "detach", detach)
	d.reporter.Progress(fmt.Sprintf("Starting %s ... ", d.cfg.Prog))

	if !detach {
		return d.startAttached(ctx, attemptID)
	}

	begin := time.Now()
	pid, err := d.spawnDetached(attemptID, 0)
	if err != nil {
		d.reporter.Failed()
		return 0, d.startFailure(attemptID, err)
	}

	d.reporter.OK()
	_ = d.audit.LogStartSuccess(attemptID, pid, time.Since(begin))
	logger.Info("started", "worker_pid", pid)
	return pid, nil
}

// startFailure records a failed start and fills in the error's context.
func (d *Daemon) startFailure(attemptID string, err error) error {
	var de *lferrors.DaemonError
	if errors.As(err, &de) {
		if de.Op == "" {
			de.Op = "start"
		}
		if de.Prog == "" {
			de.Prog = d.cfg.Prog
		}
		if de.Kind == lferrors.KindDiedEarly {
			d.removeIfOwned(de.PID)
			signal := ""
			if de.Signal != 0 {
				signal = lferrors.SignalName(de.Signal)
			}
			_ = d.audit.LogDiedEarly(attemptID, de.PID, de.ExitCode, signal)
			lflog.WithAttempt(d.logger, attemptID).Warn("worker died early", "worker_pid", de.PID, "exit_code", de.ExitCode, "signal", signal)
			return de
		}
	}
	_ = d.audit.LogStartFailure(attemptID, err)
	lflog.WithAttempt(d.logger, attemptID).Error("start failed", "error", err)
	return err
}

// startAttached turns the calling process into the worker.
func (d *Daemon) startAttached(ctx context.Context, attemptID string) (int, error) {
	begin := time.Now()
	err := d.prepare(false)
	if err == nil {
		err = d.writePIDFile()
	}
	if err != nil {
		d.reporter.Failed()
		return 0, d.startFailure(attemptID, err)
	}
	d.reporter.OK()
	_ = d.audit.LogStartSuccess(attemptID, os.Getpid(), time.Since(begin))

	// The worker does not hold the control lock while it runs.
	if d.pidfile != nil {
		_ = d.lock.Unlock()
	}
	d.serve(ctx, attemptID, true)
	return os.Getpid(), nil
}

// Stop sends SIGTERM to the recorded process and waits for it to exit. A
// daemon that is not running is reported with a warning and is not an
// error. Without opts.Force a process that outlives the timeout is left
// running and a StopTimeout error is returned.
func (d *Daemon) Stop(ctx context.Context, opts StopOptions) error {
	if d.pidfile == nil {
		return lferrors.Newf(lferrors.KindPIDFile, "stop", "cannot stop %s without a PID file", d.cfg.Prog)
	}
	if err := d.lock.Lock(ctx); err != nil {
		return lferrors.WrapKind(err, lferrors.KindUnknown, "stop", "unable to take control lock")
	}
	defer d.lock.Unlock()
	return d.stopLocked(ctx, opts)
}

func (d *Daemon) stopLocked(ctx context.Context, opts StopOptions) error {
	pid, running, err := d.pidfile.Current()
	if err != nil {
		return lferrors.WrapKind(err, lferrors.KindPIDFile, "stop", "unable to read PID file")
	}
	if !running {
		d.reporter.Warn(fmt.Sprintf("%s is not running", d.cfg.Prog))
		return nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.cfg.StopTimeout
	}

	if info, err := lifecycle.GetProcessInfo(pid); err == nil {
		d.logger.Debug("stopping", "worker_pid", pid, "pgid", info.PGID, "command", info.Command)
	}
	d.reporter.Progress(fmt.Sprintf("Stopping %s ... ", d.cfg.Prog))
	_ = d.audit.LogStop(pid, opts.Force)
	begin := time.Now()

	err = lifecycle.GracefulShutdown(ctx, pid, lifecycle.ShutdownOptions{
		Timeout:     timeout,
		Force:       opts.Force,
		KillTimeout: d.cfg.KillTimeout,
	})
	switch {
	case err == nil, errors.Is(err, lifecycle.ErrProcessNotRunning):
		if err := d.pidfile.RemoveIfOwned(pid); err != nil {
			d.reporter.Failed()
			return lferrors.WrapKind(err, lferrors.KindPIDFile, "stop", "unable to remove PID file")
		}
		d.reporter.OK()
		_ = d.audit.LogStopSuccess(pid, time.Since(begin))
		d.logger.Info("stopped", "worker_pid", pid, lflog.DurationKey, time.Since(begin).Milliseconds())
		return nil

	case errors.Is(err, lifecycle.ErrShutdownTimeout):
		d.reporter.Failed()
		_ = d.audit.LogStopTimeout(pid, timeout)
		return &lferrors.DaemonError{Kind: lferrors.KindStopTimeout, Op: "stop", Prog: d.cfg.Prog, PID: pid}

	case errors.Is(err, lifecycle.ErrKillTimeout):
		d.reporter.Failed()
		_ = d.audit.LogStopTimeout(pid, timeout+d.cfg.KillTimeout)
		return &lferrors.DaemonError{
			Kind:    lferrors.KindStopTimeout,
			Op:      "stop",
			Prog:    d.cfg.Prog,
			PID:     pid,
			Message: fmt.Sprintf("process (PID %d) did not exit after SIGKILL", pid),
		}

	default:
		d.reporter.Failed()
		_ = d.audit.LogStopFailure(pid, err)
		return &lferrors.DaemonError{Kind: lferrors.KindUnknown, Op: "stop", Prog: d.cfg.Prog, PID: pid, Message: "unable to stop " + d.cfg.Prog, Cause: err}
	}
}

// Restart stops the daemon, if running, then starts it. A daemon that was
// not running is started after a warning.
func (d *Daemon) Restart(ctx context.Context, opts RestartOptions) (int, error) {
	if d.pidfile == nil {
		return 0, lferrors.Newf(lferrors.KindPIDFile, "restart", "cannot restart %s without a PID file", d.cfg.Prog)
	}
	if d.cfg.Worker == nil {
		return 0, lferrors.Newf(lferrors.KindStartFailed, "restart", "no worker is defined for %s", d.cfg.Prog)
	}
	if err := d.lock.Lock(ctx); err != nil {
		return 0, lferrors.WrapKind(err, lferrors.KindUnknown, "restart", "unable to take control lock")
	}
	defer d.lock.Unlock()

	_, running, err := d.pidfile.Current()
	if err != nil {
		return 0, lferrors.WrapKind(err, lferrors.KindPIDFile, "restart", "unable to read PID file")
	}
	if !running {
		d.reporter.Warn(fmt.Sprintf("%s was not running", d.cfg.Prog))
	} else if err := d.stopLocked(ctx, StopOptions{Timeout: opts.Timeout, Force: opts.Force}); err != nil {
		return 0, err
	}
	return d.startLocked(ctx, StartOptions{Debug: opts.Debug})
}

// Reload replaces the running worker with a fresh copy of the program. It
// may only be called from inside the worker. The replacement is started
// and probed like a normal start and records its PID before this worker is
// asked to shut down; if it fails, this worker keeps running and the error
// is returned.
func (d *Daemon) Reload(ctx context.Context) error {
	rs := d.currentRun()
	if rs == nil || d.pidfile == nil {
		return &lferrors.DaemonError{Kind: lferrors.KindNotWorker, Op: "reload", Prog: d.cfg.Prog}
	}
	self := os.Getpid()
	if pid, err := d.pidfile.Read(); err != nil || pid != self {
		return &lferrors.DaemonError{Kind: lferrors.KindNotWorker, Op: "reload", Prog: d.cfg.Prog, Cause: err}
	}
	if d.cfg.ChrootDir != "" {
		return lferrors.Newf(lferrors.KindStartFailed, "reload", "reload is not supported inside a chroot jail")
	}

	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()
	if rs.reloading.Load() {
		return nil
	}

	if err := d.lock.Lock(ctx); err != nil {
		return lferrors.WrapKind(err, lferrors.KindStartFailed, "reload", "unable to take control lock")
	}
	defer d.lock.Unlock()

	attemptID := uuid.NewString()
	logger := lflog.WithAttempt(d.logger, attemptID)
	logger.Info("reloading")

	var (
		pid int
		err error
	)
	if rs.attached {
		pid, err = d.reloadAttached(attemptID, self)
	} else {
		pid, err = d.spawnDetached(attemptID, self)
	}
	if err != nil {
		logger.Error("reload failed", "error", err)
		_ = d.audit.LogReloadFailure(attemptID, self, err)
		var de *lferrors.DaemonError
		if errors.As(err, &de) && de.Op == "" {
			de.Op = "reload"
			de.Prog = d.cfg.Prog
		}
		return err
	}

	_ = d.audit.LogReload(attemptID, self, pid)
	logger.Info("replacement running", "worker_pid", pid)
	rs.reloading.Store(true)
	rs.cancel()
	return nil
}

// reloadAttached spawns the replacement worker directly and probes it from
// this process, keeping the terminal.
func (d *Daemon) reloadAttached(attemptID string, self int) (int, error) {
	m := stage.Marker{Stage: stage.Worker, AttemptID: attemptID, Attached: true, ReloadFrom: self}
	proc, r, err := d.spawnWorker(m, d.origWD)
	if err != nil {
		return 0, lferrors.WrapKind(err, lferrors.KindStartFailed, "", "unable to fork")
	}
	rep := d.probe(proc, r, m)
	return rep.PID, rep.Err()
}
