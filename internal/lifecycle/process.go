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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrShutdownTimeout is returned when the process doesn't exit within the timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrKillTimeout is returned when the process survives SIGKILL for the
	// whole kill timeout (typically stuck in uninterruptible sleep).
	ErrKillTimeout = errors.New("process did not die after SIGKILL")
)

// ExitPollBackoff is the polling schedule used while waiting for a process
// to exit.
var ExitPollBackoff = Backoff{
	Initial:    50 * time.Millisecond,
	Max:        250 * time.Millisecond,
	Multiplier: 1.5,
}

// ProcessInfo contains information about a running process.
type ProcessInfo struct {
	PID     int
	PGID    int
	Running bool
	Command string
}

// IsProcessRunning checks if a process with the given PID exists and is not
// a zombie. A process owned by another user (EPERM) counts as running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !isZombie(pid)
}

// SendSignal sends a signal to the given process. ErrProcessNotRunning is
// returned when the process is already gone.
func SendSignal(pid int, sig syscall.Signal) error {
	if err := unix.Kill(pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrProcessNotRunning
		}
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, pid, err)
	}
	return nil
}

// WaitForExit polls until the process is gone, the timeout elapses or ctx is
// done. Returns ErrShutdownTimeout if the process is still running after
// timeout.
func WaitForExit(ctx context.Context, pid int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := Poll(ctx, ExitPollBackoff, func() (bool, error) {
		return !IsProcessRunning(pid), nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrShutdownTimeout
	}
	return err
}

// ShutdownOptions controls GracefulShutdown.
type ShutdownOptions struct {
	// Timeout bounds the wait after SIGTERM.
	Timeout time.Duration

	// Force sends SIGKILL when Timeout elapses.
	Force bool

	// KillTimeout bounds the wait after SIGKILL. Defaults to 5s.
	KillTimeout time.Duration
}

// GracefulShutdown sends SIGTERM to a process and waits for it to exit.
// SIGKILL is sent only when opts.Force is set; otherwise a timeout returns
// ErrShutdownTimeout and the process is left running.
func GracefulShutdown(ctx context.Context, pid int, opts ShutdownOptions) error {
	if !IsProcessRunning(pid) {
		return ErrProcessNotRunning
	}

	if err := SendSignal(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, ErrProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	err := WaitForExit(ctx, pid, opts.Timeout)
	if err == nil || !opts.Force || !errors.Is(err, ErrShutdownTimeout) {
		return err
	}

	if err := SendSignal(pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, ErrProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	killTimeout := opts.KillTimeout
	if killTimeout <= 0 {
		killTimeout = 5 * time.Second
	}
	if err := WaitForExit(ctx, pid, killTimeout); err != nil {
		if errors.Is(err, ErrShutdownTimeout) {
			return ErrKillTimeout
		}
		return err
	}
	return nil
}

// GetProcessInfo returns information about the process with the given PID.
func GetProcessInfo(pid int) (*ProcessInfo, error) {
	info := &ProcessInfo{
		PID:     pid,
		Running: IsProcessRunning(pid),
	}
	if !info.Running {
		return info, nil
	}

	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to get process group of %d: %w", pid, err)
	}
	info.PGID = pgid

	cmd, err := getProcessCommand(pid)
	if err != nil {
		// Process exists but we can't read command - that's ok
		info.Command = "<unknown>"
	} else {
		info.Command = cmd
	}
	return info, nil
}
