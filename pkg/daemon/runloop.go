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
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	lflog "github.com/tombee/lifeline/internal/log"
	lferrors "github.com/tombee/lifeline/pkg/errors"
	"golang.org/x/time/rate"
)

// reloadBurst and reloadEvery limit how often signals and file changes may
// trigger a reload.
const (
	reloadBurst = 1
	reloadEvery = 2 * time.Second
)

// runState is the worker's shutdown and reload intent. Signal handling only
// records intent here; the run loop acts on it.
type runState struct {
	attemptID string
	attached  bool
	cancel    context.CancelFunc

	stopSig   atomic.Int32
	reloading atomic.Bool
	reloadReq chan struct{}
	force     chan struct{}
	limiter   *rate.Limiter

	once sync.Once
}

// requestReload queues one reload. Requests beyond the rate limit, or while
// one is already queued, are dropped.
func (rs *runState) requestReload() bool {
	if !rs.limiter.Allow() {
		return false
	}
	select {
	case rs.reloadReq <- struct{}{}:
		return true
	default:
		return false
	}
}

// serve runs the worker until it returns or a stop or reload retires it,
// then shuts the process down. It only returns when d.exit does.
func (d *Daemon) serve(parent context.Context, attemptID string, attached bool) int {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()

	rs := &runState{
		attemptID: attemptID,
		attached:  attached,
		cancel:    cancel,
		reloadReq: make(chan struct{}, 1),
		force:     make(chan struct{}, 1),
		limiter:   rate.NewLimiter(rate.Every(reloadEvery), reloadBurst),
	}
	d.runMu.Lock()
	d.run = rs
	d.runMu.Unlock()

	logger := lflog.WithAttempt(d.logger, attemptID)

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, d.cfg.ReloadSignal)
	defer signal.Stop(sigs)
	go d.handleSignals(ctx, sigs, rs)

	if len(d.cfg.WatchPaths) > 0 {
		if err := d.startWatcher(ctx, rs); err != nil {
			logger.Warn("reload watcher disabled", "error", err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- runWorker(ctx, d.cfg.Worker)
	}()
	logger.Info("worker running", "attached", attached)

	for {
		select {
		case err := <-done:
			reason, code := shutdownReason(rs.reloading.Load(), syscall.Signal(rs.stopSig.Load()), err)
			return d.shutdown(rs, reason, code)
		case <-rs.force:
			sig := syscall.Signal(rs.stopSig.Load())
			logger.Warn("second stop signal, not waiting for worker", "signal", lferrors.SignalName(sig))
			reason, code := shutdownReason(false, sig, nil)
			return d.shutdown(rs, reason, code)
		case <-rs.reloadReq:
			if err := d.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reload failed, keeping current worker", "error", err)
			}
		}
	}
}

// handleSignals turns signals into intent. A first stop signal cancels the
// worker's context; a second one asks the run loop not to wait for it.
func (d *Daemon) handleSignals(ctx context.Context, sigs <-chan os.Signal, rs *runState) {
	for {
		var sig os.Signal
		select {
		case <-ctx.Done():
			if rs.stopSig.Load() == 0 {
				return
			}
			// Keep listening so a second stop signal can still force exit.
			sig = <-sigs
		case sig = <-sigs:
		}

		s, ok := sig.(syscall.Signal)
		if !ok {
			continue
		}
		lflog.Trace(d.logger, "signal received", slog.String("signal", lferrors.SignalName(s)))
		if s == d.cfg.ReloadSignal {
			if !rs.requestReload() {
				d.logger.Debug("reload request dropped", "signal", lferrors.SignalName(s))
			}
			continue
		}
		if rs.stopSig.CompareAndSwap(0, int32(s)) {
			rs.cancel()
			continue
		}
		select {
		case rs.force <- struct{}{}:
		default:
		}
	}
}

// runWorker calls w, turning a panic into an error.
func runWorker(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w(ctx)
}

// shutdownReason classifies how the worker ended into a reason for the
// shutdown handler and an exit status.
func shutdownReason(reloading bool, stopSig syscall.Signal, err error) (string, int) {
	if reloading {
		return "Shutting down for reload", lferrors.ExitSuccess
	}
	if stopSig != 0 {
		return fmt.Sprintf("Terminated by %s (%d)", lferrors.SignalName(stopSig), int(stopSig)),
			lferrors.ExitSignalOffset + int(stopSig)
	}
	if err == nil {
		return "Shutting down normally", lferrors.ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		switch {
		case exitErr.Message != "":
			return "Exiting with message: " + exitErr.Message, exitErr.ExitStatus()
		case exitErr.Code != 0:
			return fmt.Sprintf("Exiting with non-zero exit code %d", exitErr.Code), exitErr.Code
		default:
			return "Shutting down normally", lferrors.ExitSuccess
		}
	}
	return "Dying due to unhandled error: " + err.Error(), lferrors.ExitUnhandled
}

// shutdown runs the exit path once: the shutdown handler, then PID file
// removal (only while the file still names this process), then exit.
func (d *Daemon) shutdown(rs *runState, reason string, code int) int {
	rs.once.Do(func() {
		pid := os.Getpid()
		if d.cfg.Shutdown != nil {
			d.notifyShutdown(reason, code)
		}

		logger := lflog.WithAttempt(d.logger, rs.attemptID)
		if code == 0 {
			logger.Info("shutting down", "reason", reason, "exit_code", code)
		} else {
			logger.Warn("shutting down", "reason", reason, "exit_code", code)
		}
		if err := d.audit.LogShutdown(pid, reason, code); err != nil {
			logger.Debug("failed to record shutdown", "error", err)
		}
		d.removeIfOwned(pid)
	})
	d.exit(code)
	return code
}

func (d *Daemon) notifyShutdown(reason string, code int) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("shutdown handler panicked", "panic", r)
		}
	}()
	d.cfg.Shutdown.OnShutdown(reason, code)
}

// currentRun returns the run state of a serving worker, or nil.
func (d *Daemon) currentRun() *runState {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.run
}
