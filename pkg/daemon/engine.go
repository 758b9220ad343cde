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
	"syscall"
	"time"

	"github.com/tombee/lifeline/internal/lifecycle"
	"github.com/tombee/lifeline/internal/stage"
	lferrors "github.com/tombee/lifeline/pkg/errors"
	"golang.org/x/sys/unix"
)

// setupTimeout bounds how long a prober waits for the worker to finish its
// environment setup and report.
const setupTimeout = 30 * time.Second

// resume continues the stage pipeline in a re-executed process. It only
// returns when d.exit does.
func (d *Daemon) resume(ctx context.Context) error {
	switch d.marker.Stage {
	case stage.Intermediate:
		d.runIntermediate()
	case stage.Worker:
		d.runWorkerStage(ctx)
	default:
		return fmt.Errorf("unexpected stage %v", d.marker.Stage)
	}
	return nil
}

// spawnDetached runs the caller side of a detached start: it re-executes
// the binary as a session-leading intermediate and waits for its one
// report. reloadFrom is the PID being replaced, or 0.
func (d *Daemon) spawnDetached(attemptID string, reloadFrom int) (int, error) {
	sp, err := d.spawner()
	if err != nil {
		return 0, lferrors.WrapKind(err, lferrors.KindStartFailed, "", "unable to start "+d.cfg.Prog)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return 0, lferrors.WrapKind(err, lferrors.KindStartFailed, "", "unable to create report pipe")
	}
	defer r.Close()

	env, err := stage.Marker{Stage: stage.Intermediate, AttemptID: attemptID, ReloadFrom: reloadFrom}.Env()
	if err != nil {
		w.Close()
		return 0, err
	}

	proc, err := sp.Spawn(lifecycle.SpawnOptions{
		Args:     d.args,
		ExtraEnv: []string{env},
		Dir:      d.origWD,
		Setsid:   true,
		Files:    []*os.File{os.Stdin, os.Stdout, os.Stderr, w},
	})
	w.Close()
	if err != nil {
		return 0, lferrors.WrapKind(err, lferrors.KindStartFailed, "", "unable to fork")
	}

	rep, readErr := stage.ReadReport(r)
	state, waitErr := proc.Wait()
	if readErr != nil {
		if errors.Is(readErr, stage.ErrNoReport) && waitErr == nil {
			return 0, lferrors.Newf(lferrors.KindStartFailed, "", "intermediate process %s without reporting", state)
		}
		return 0, lferrors.WrapKind(readErr, lferrors.KindStartFailed, "", "unable to read start report")
	}
	return rep.PID, rep.Err()
}

// runIntermediate is the session leader. It spawns the worker, which is
// not a session leader and so can never acquire a controlling terminal,
// probes it, and reports to the caller.
func (d *Daemon) runIntermediate() {
	d.setProcTitle(stage.Intermediate)
	report := stage.ReportPipe()

	m := d.marker
	m.Stage = stage.Worker
	proc, r, err := d.spawnWorker(m, "")

	var rep stage.Report
	if err != nil {
		rep = stage.FromError(lferrors.WrapKind(err, lferrors.KindStartFailed, "", "unable to fork"))
	} else {
		rep = d.probe(proc, r, m)
	}

	if err := stage.WriteReport(report, rep); err != nil {
		d.logger.Error("failed to report start outcome", "error", err)
	}
	report.Close()
	d.exit(lferrors.ExitSuccess)
}

// spawnWorker starts the worker stage with a fresh report pipe. The caller
// owns the returned read end.
func (d *Daemon) spawnWorker(m stage.Marker, dir string) (*os.Process, *os.File, error) {
	sp, err := d.spawner()
	if err != nil {
		return nil, nil, err
	}
	env, err := m.Env()
	if err != nil {
		return nil, nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	proc, err := sp.Spawn(lifecycle.SpawnOptions{
		Args:     d.args,
		ExtraEnv: []string{env},
		Dir:      dir,
		Files:    []*os.File{os.Stdin, os.Stdout, os.Stderr, w},
	})
	w.Close()
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return proc, r, nil
}

// probe waits for the worker's setup report, then gives it ProbeInterval
// to die. A worker still alive after that is released and reported ready.
// For a reload the PID file is written here, once the replacement has
// passed the probe.
func (d *Daemon) probe(proc *os.Process, r *os.File, m stage.Marker) stage.Report {
	pid := proc.Pid
	logger := d.logger.With("worker_pid", pid)

	_ = r.SetReadDeadline(time.Now().Add(setupTimeout))
	rep, err := stage.ReadReport(r)
	r.Close()

	switch {
	case errors.Is(err, stage.ErrNoReport):
		ws, _ := reap(pid, 0)
		d.removeIfOwned(pid)
		logger.Warn("worker died during setup", "status", ws)
		return stage.DiedEarly(pid, ws)
	case err != nil:
		_ = proc.Kill()
		_, _ = reap(pid, 0)
		return stage.FromError(lferrors.WrapKind(err, lferrors.KindStartFailed, "", "worker did not finish setup"))
	case rep.Outcome != stage.OutcomeReady:
		_, _ = reap(pid, 0)
		return rep
	}

	time.Sleep(d.cfg.ProbeInterval)

	ws, exited := reap(pid, unix.WNOHANG)
	if exited {
		d.removeIfOwned(pid)
		logger.Warn("worker exited during probe", "status", ws)
		return stage.DiedEarly(pid, ws)
	}

	if m.IsReload() && d.pidfile != nil {
		if err := d.pidfile.Write(pid); err != nil {
			_ = proc.Signal(syscall.SIGTERM)
			go proc.Wait()
			return stage.FromError(lferrors.WrapKind(err, lferrors.KindPIDFile, "", "unable to record replacement PID"))
		}
	}

	logger.Debug("worker passed liveness probe")
	_ = proc.Release()
	return stage.Ready(pid)
}

// reap waits for pid with the given wait4 options. exited is false when
// WNOHANG found the process still running.
func reap(pid int, options int) (syscall.WaitStatus, bool) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, options, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || wpid != pid {
			return 0, false
		}
		return syscall.WaitStatus(ws), true
	}
}

func (d *Daemon) removeIfOwned(pid int) {
	if d.pidfile == nil {
		return
	}
	if err := d.pidfile.RemoveIfOwned(pid); err != nil {
		d.logger.Warn("failed to remove PID file", "path", d.pidfile.Path(), "error", err)
	}
}

// runWorkerStage is the final detached process, or the replacement spawned
// directly by an attached reload.
func (d *Daemon) runWorkerStage(ctx context.Context) {
	d.setProcTitle(stage.Worker)
	report := stage.ReportPipe()

	err := d.prepare(!d.marker.Attached)
	if err == nil && !d.marker.IsReload() {
		err = d.writePIDFile()
	}
	if err != nil {
		d.logger.Error("worker setup failed", "error", err)
		_ = stage.WriteReport(report, stage.FromError(err))
		report.Close()
		d.exit(lferrors.ExitCode(err))
		return
	}

	if err := stage.WriteReport(report, stage.Ready(os.Getpid())); err != nil {
		d.logger.Warn("failed to report readiness", "error", err)
	}
	report.Close()

	d.serve(ctx, d.marker.AttemptID, d.marker.Attached)
}

func (d *Daemon) writePIDFile() error {
	if d.pidfile == nil {
		return nil
	}
	if err := d.pidfile.Write(os.Getpid()); err != nil {
		return lferrors.WrapKind(err, lferrors.KindPIDFile, "start", "unable to write PID file")
	}
	return nil
}

func (d *Daemon) spawner() (*lifecycle.Spawner, error) {
	sp, err := lifecycle.NewSpawner()
	if err != nil {
		return nil, err
	}
	return sp.WithEnv(stage.StripEnv(os.Environ())), nil
}
