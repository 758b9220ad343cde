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
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// ExecWorker returns a Worker that replaces the daemon process with another
// program, keeping its PID, so the daemon's PID file and stop handling apply
// to that program. A prog containing a slash is resolved when ExecWorker is
// called, before any chdir or chroot; a bare name is looked up in PATH when
// the worker runs.
//
// The replaced process runs no shutdown handler and removes no PID file on
// exit.
func ExecWorker(prog string, args ...string) Worker {
	path := prog
	var resolveErr error
	if strings.Contains(prog, "/") {
		path, resolveErr = resolveProgram(prog)
	}

	return func(ctx context.Context) error {
		if resolveErr != nil {
			return resolveErr
		}
		bin := path
		if !strings.Contains(bin, "/") {
			found, err := exec.LookPath(bin)
			if err != nil {
				return fmt.Errorf("exec worker: %w", err)
			}
			bin = found
		}
		argv := append([]string{prog}, args...)
		if err := syscall.Exec(bin, argv, os.Environ()); err != nil {
			return fmt.Errorf("exec worker: unable to run %s: %w", bin, err)
		}
		return nil
	}
}

func resolveProgram(prog string) (string, error) {
	abs, err := filepath.Abs(prog)
	if err != nil {
		return "", fmt.Errorf("exec worker: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}
