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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Lifecycle event names.
const (
	EventStart          = "start"
	EventStartSuccess   = "start_success"
	EventStartFailure   = "start_failure"
	EventDiedEarly      = "died_early"
	EventStop           = "stop"
	EventStopSuccess    = "stop_success"
	EventStopFailure    = "stop_failure"
	EventStopTimeout    = "stop_timeout"
	EventStalePID       = "stale_pid_detected"
	EventAlreadyRunning = "already_running"
	EventReload         = "reload"
	EventReloadFailure  = "reload_failure"
	EventShutdown       = "shutdown"
)

// LifecycleEvent is one JSON line of the lifecycle audit log.
type LifecycleEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Event     string            `json:"event"`
	Prog      string            `json:"prog,omitempty"`
	PID       int               `json:"pid,omitempty"`
	AttemptID string            `json:"attempt_id,omitempty"`
	ExitCode  int               `json:"exit_code,omitempty"`
	Signal    string            `json:"signal,omitempty"`
	Success   bool              `json:"success"`
	Message   string            `json:"message,omitempty"`
	Flags     map[string]string `json:"flags,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// LifecycleLogger appends lifecycle events to a JSON-lines file. A nil
// logger, or one with an empty path, discards events.
type LifecycleLogger struct {
	logPath string
	prog    string
	umask   os.FileMode
	uid     int
	gid     int
	mu      sync.Mutex
}

// NewLifecycleLogger returns a logger writing to logPath. An empty path
// yields a logger that discards everything.
func NewLifecycleLogger(logPath, prog string) *LifecycleLogger {
	return &LifecycleLogger{
		logPath: logPath,
		prog:    prog,
		umask:   0o077,
		uid:     -1,
		gid:     -1,
	}
}

// WithOwner gives created directories (0o777 &^ umask) and, when running as
// root, the log file to uid and gid.
func (l *LifecycleLogger) WithOwner(umask, uid, gid int) *LifecycleLogger {
	l.umask = os.FileMode(umask) & os.ModePerm
	l.uid = uid
	l.gid = gid
	return l
}

// Path returns the audit log location.
func (l *LifecycleLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.logPath
}

// name returns the program name, or "" for a nil logger.
func (l *LifecycleLogger) name() string {
	if l == nil {
		return ""
	}
	return l.prog
}

func (l *LifecycleLogger) LogStart(attemptID string, args []string) error {
	return l.writeEvent(LifecycleEvent{
		Event:     EventStart,
		AttemptID: attemptID,
		Success:   true,
		Message:   fmt.Sprintf("Starting %s", l.name()),
		Flags:     parseFlags(args),
	})
}

func (l *LifecycleLogger) LogStartSuccess(attemptID string, pid int, duration time.Duration) error {
	return l.writeEvent(LifecycleEvent{
		Event:     EventStartSuccess,
		AttemptID: attemptID,
		PID:       pid,
		Success:   true,
		Message:   fmt.Sprintf("%s started successfully (duration: %v)", l.name(), duration.Round(time.Millisecond)),
	})
}

func (l *LifecycleLogger) LogStartFailure(attemptID string, err error) error {
	return l.writeEvent(LifecycleEvent{
		Event:     EventStartFailure,
		AttemptID: attemptID,
		Message:   fmt.Sprintf("%s failed to start", l.name()),
		Error:     errString(err),
	})
}

// LogDiedEarly records a worker that exited inside the liveness probe
// window. signal is empty when the worker exited normally.
func (l *LifecycleLogger) LogDiedEarly(attemptID string, pid, exitCode int, signal string) error {
	return l.writeEvent(LifecycleEvent{
		Event:     EventDiedEarly,
		AttemptID: attemptID,
		PID:       pid,
		ExitCode:  exitCode,
		Signal:    signal,
		Message:   "Child exited immediately",
	})
}

func (l *LifecycleLogger) LogStop(pid int, force bool) error {
	message := fmt.Sprintf("Stopping %s", l.name())
	if force {
		message = fmt.Sprintf("Force stopping %s", l.name())
	}
	return l.writeEvent(LifecycleEvent{
		Event:   EventStop,
		PID:     pid,
		Success: true,
		Message: message,
	})
}

func (l *LifecycleLogger) LogStopSuccess(pid int, duration time.Duration) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStopSuccess,
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("%s stopped (duration: %v)", l.name(), duration.Round(time.Millisecond)),
	})
}

func (l *LifecycleLogger) LogStopFailure(pid int, err error) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStopFailure,
		PID:     pid,
		Message: fmt.Sprintf("Failed to stop %s", l.name()),
		Error:   errString(err),
	})
}

func (l *LifecycleLogger) LogStopTimeout(pid int, timeout time.Duration) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStopTimeout,
		PID:     pid,
		Message: fmt.Sprintf("Process still running after %v", timeout),
	})
}

func (l *LifecycleLogger) LogStalePID(pid int, reason string) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStalePID,
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("Stale PID file detected and removed: %s", reason),
	})
}

func (l *LifecycleLogger) LogAlreadyRunning(pid int) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventAlreadyRunning,
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("%s already running", l.name()),
	})
}

// LogReload records a reload handoff from oldPID to newPID.
func (l *LifecycleLogger) LogReload(attemptID string, oldPID, newPID int) error {
	return l.writeEvent(LifecycleEvent{
		Event:     EventReload,
		AttemptID: attemptID,
		PID:       newPID,
		Success:   true,
		Message:   fmt.Sprintf("Reloaded %s (previous PID %d)", l.name(), oldPID),
	})
}

func (l *LifecycleLogger) LogReloadFailure(attemptID string, pid int, err error) error {
	return l.writeEvent(LifecycleEvent{
		Event:     EventReloadFailure,
		AttemptID: attemptID,
		PID:       pid,
		Message:   fmt.Sprintf("Reload failed; PID %d keeps running", pid),
		Error:     errString(err),
	})
}

func (l *LifecycleLogger) LogShutdown(pid int, reason string, code int) error {
	return l.writeEvent(LifecycleEvent{
		Event:    EventShutdown,
		PID:      pid,
		ExitCode: code,
		Success:  code == 0,
		Message:  reason,
	})
}

func (l *LifecycleLogger) writeEvent(event LifecycleEvent) error {
	if l == nil || l.logPath == "" {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Prog == "" {
		event.Prog = l.prog
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := MkdirAllOwned(filepath.Dir(l.logPath), 0o777&^l.umask, l.uid, l.gid); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle log: %w", err)
	}
	defer f.Close()
	if (l.uid >= 0 || l.gid >= 0) && os.Geteuid() == 0 {
		if err := f.Chown(l.uid, l.gid); err != nil {
			return fmt.Errorf("failed to chown lifecycle log: %w", err)
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// parseFlags extracts --flag[=value] pairs from a command line for the
// audit record.
func parseFlags(args []string) map[string]string {
	flags := make(map[string]string)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		key := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}

		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[key] = args[i+1]
			i++
		} else {
			flags[key] = "true"
		}
	}

	if len(flags) == 0 {
		return nil
	}
	return flags
}
