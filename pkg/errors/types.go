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

package errors

import (
	"fmt"
	"syscall"
)

// Kind classifies a daemon lifecycle failure.
type Kind int

const (
	// KindUnknown is the zero value; it maps to the generic failure exit code.
	KindUnknown Kind = iota
	// KindAlreadyRunning means a live PID is already recorded in the PID file.
	KindAlreadyRunning
	// KindNotRunning means no live process is recorded. Benign for stop.
	KindNotRunning
	// KindStartFailed covers spawn, setup and descriptor failures before the
	// PID file is written.
	KindStartFailed
	// KindDiedEarly means the worker exited inside the liveness probe window.
	KindDiedEarly
	// KindStopTimeout means the process outlived the stop timeout.
	KindStopTimeout
	// KindPIDFile covers unwritable or corrupt PID files.
	KindPIDFile
	// KindPrivilege covers chroot, setgid and setuid failures.
	KindPrivilege
	// KindInvalidAction means the requested action name is not registered.
	KindInvalidAction
	// KindMissingParameter means a required action parameter was not supplied.
	KindMissingParameter
	// KindNotWorker means an operation reserved for the running worker was
	// invoked from another process.
	KindNotWorker
	// KindInvalidParameter means a parameter value could not be used.
	KindInvalidParameter
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindAlreadyRunning:   "already_running",
	KindNotRunning:       "not_running",
	KindStartFailed:      "start_failed",
	KindDiedEarly:        "died_early",
	KindStopTimeout:      "stop_timeout",
	KindPIDFile:          "pid_file",
	KindPrivilege:        "privilege",
	KindInvalidAction:    "invalid_action",
	KindMissingParameter: "missing_parameter",
	KindNotWorker:        "not_worker",
	KindInvalidParameter: "invalid_parameter",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// DaemonError is the error type returned by every lifecycle operation.
type DaemonError struct {
	// Kind classifies the failure and selects the exit code.
	Kind Kind

	// Op is the lifecycle operation that failed (e.g., "start", "stop").
	Op string

	// Prog is the daemon program name, when known.
	Prog string

	// PID is the process the failure refers to, when known.
	PID int

	// Message is the human-readable error description.
	Message string

	// ExitCode is the exit status of a worker that died early.
	ExitCode int

	// Signal is the terminating signal of a worker that died early.
	Signal syscall.Signal

	// Cause is the underlying error
	Cause error

	// Reported is set when the operator has already been shown this
	// failure, so the CLI only maps it to an exit code.
	Reported bool
}

// Error implements the error interface.
func (e *DaemonError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.defaultMessage()
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *DaemonError) defaultMessage() string {
	prog := e.Prog
	if prog == "" {
		prog = "daemon"
	}
	switch e.Kind {
	case KindAlreadyRunning:
		return fmt.Sprintf("%s already running with PID %d", prog, e.PID)
	case KindNotRunning:
		return fmt.Sprintf("%s is not running", prog)
	case KindDiedEarly:
		if e.Signal != 0 {
			return fmt.Sprintf("child exited immediately after %s (%d)", SignalName(e.Signal), int(e.Signal))
		}
		return fmt.Sprintf("child exited immediately with exit code %d", e.ExitCode)
	case KindStopTimeout:
		return fmt.Sprintf("timed out while waiting for process (PID %d) to terminate", e.PID)
	case KindStartFailed:
		return fmt.Sprintf("unable to start %s", prog)
	case KindPIDFile:
		return "PID file error"
	case KindPrivilege:
		return "unable to change process privileges"
	case KindNotWorker:
		return "only the running daemon process may do this"
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DaemonError) Unwrap() error {
	return e.Cause
}

// Is matches any *DaemonError of the same Kind, so the sentinels below can be
// used with errors.Is.
func (e *DaemonError) Is(target error) bool {
	t, ok := target.(*DaemonError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsUserVisible implements UserVisibleError. Failures already shown to the
// operator are not shown again.
func (e *DaemonError) IsUserVisible() bool {
	return !e.Reported
}

// UserMessage implements UserVisibleError.
func (e *DaemonError) UserMessage() string {
	return e.Error()
}

// Suggestion implements UserVisibleError.
func (e *DaemonError) Suggestion() string {
	switch e.Kind {
	case KindAlreadyRunning:
		return "Use 'restart' to replace the running instance, or 'stop' it first"
	case KindStopTimeout:
		return "Retry with a longer --timeout, or pass --force to kill the process uncleanly"
	case KindDiedEarly:
		return "Check the daemon's stdout/stderr files, or start it with --debug to stay attached"
	case KindPrivilege:
		return "Privilege and chroot changes usually require starting the daemon as root"
	case KindPIDFile:
		return "Check that the PID file directory exists and is writable"
	default:
		return ""
	}
}

// ErrorType implements ErrorClassifier.
func (e *DaemonError) ErrorType() string {
	return e.Kind.String()
}

// IsRetryable implements ErrorClassifier. Only a stop timeout is worth
// retrying as-is; every other kind needs operator action.
func (e *DaemonError) IsRetryable() bool {
	return e.Kind == KindStopTimeout
}

// Sentinels for errors.Is. They match any *DaemonError of the same Kind.
var (
	ErrAlreadyRunning   = &DaemonError{Kind: KindAlreadyRunning}
	ErrNotRunning       = &DaemonError{Kind: KindNotRunning}
	ErrStartFailed      = &DaemonError{Kind: KindStartFailed}
	ErrDiedEarly        = &DaemonError{Kind: KindDiedEarly}
	ErrStopTimeout      = &DaemonError{Kind: KindStopTimeout}
	ErrPIDFile          = &DaemonError{Kind: KindPIDFile}
	ErrPrivilege        = &DaemonError{Kind: KindPrivilege}
	ErrInvalidAction    = &DaemonError{Kind: KindInvalidAction}
	ErrMissingParameter = &DaemonError{Kind: KindMissingParameter}
	ErrNotWorker        = &DaemonError{Kind: KindNotWorker}
	ErrInvalidParameter = &DaemonError{Kind: KindInvalidParameter}
)

// KindOf returns the Kind of the first *DaemonError in err's chain.
func KindOf(err error) Kind {
	var de *DaemonError
	if As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// SignalName returns the conventional SIGxxx name of sig.
func SignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	case syscall.SIGILL:
		return "SIGILL"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGBUS:
		return "SIGBUS"
	case syscall.SIGFPE:
		return "SIGFPE"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGUSR1:
		return "SIGUSR1"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGUSR2:
		return "SIGUSR2"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	case syscall.SIGALRM:
		return "SIGALRM"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return fmt.Sprintf("signal %d", int(sig))
	}
}

// ConfigError represents a problem in a daemon definition file or its
// environment overrides.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "umask", "user")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements UserVisibleError.
func (e *ConfigError) IsUserVisible() bool {
	return true
}

// UserMessage implements UserVisibleError.
func (e *ConfigError) UserMessage() string {
	return e.Error()
}

// Suggestion implements UserVisibleError.
func (e *ConfigError) Suggestion() string {
	return "Check the daemon definition file passed with --config"
}
