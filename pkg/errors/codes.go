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

// Process exit codes used by the command-line surface.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitUsage        = 2
	ExitNotRunning   = 3
	ExitAlreadyRun   = 4
	ExitStartFailed  = 5
	ExitDiedEarly    = 6
	ExitStopTimeout  = 7
	ExitPIDFile      = 8
	ExitPrivilege    = 9
	ExitSignalOffset = 128
	ExitUnhandled    = 127
)

// ExitStatus implements ExitCoder.
func (e *DaemonError) ExitStatus() int {
	switch e.Kind {
	case KindAlreadyRunning:
		return ExitAlreadyRun
	case KindNotRunning:
		return ExitNotRunning
	case KindStartFailed:
		return ExitStartFailed
	case KindDiedEarly:
		return ExitDiedEarly
	case KindStopTimeout:
		return ExitStopTimeout
	case KindPIDFile:
		return ExitPIDFile
	case KindPrivilege:
		return ExitPrivilege
	case KindInvalidAction, KindMissingParameter, KindInvalidParameter:
		return ExitUsage
	default:
		return ExitFailure
	}
}

// ExitCode maps err to a process exit status. nil maps to ExitSuccess and
// errors that do not implement ExitCoder map to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ec ExitCoder
	if As(err, &ec) {
		return ec.ExitStatus()
	}
	return ExitFailure
}
