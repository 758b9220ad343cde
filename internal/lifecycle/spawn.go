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
	"fmt"
	"os"
	"syscall"
)

// Spawner starts re-executions of the current binary for the daemonization
// stages.
type Spawner struct {
	// Binary is the executable to run. Defaults to os.Executable().
	Binary string

	// Env is the base environment passed to the child process
	Env []string
}

// NewSpawner returns a Spawner for the running executable.
func NewSpawner() (*Spawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	return &Spawner{
		Binary: exe,
		Env:    os.Environ(),
	}, nil
}

// WithEnv replaces the base environment.
func (s *Spawner) WithEnv(env []string) *Spawner {
	s.Env = env
	return s
}

// SpawnOptions describes one stage process.
type SpawnOptions struct {
	// Args is the full argv, including argv[0].
	Args []string

	// ExtraEnv is appended to the base environment.
	ExtraEnv []string

	// Dir is the working directory of the child. Empty inherits.
	Dir string

	// Setsid starts the child in a new session, making it a session and
	// process group leader with no controlling terminal.
	Setsid bool

	// Files are the child's descriptors 0, 1, 2, 3, ... A nil entry is
	// closed in the child. Fewer than three entries inherit the caller's
	// standard streams for the missing ones.
	Files []*os.File
}

// Spawn starts the child and returns it without waiting. The caller owns
// reaping it.
func (s *Spawner) Spawn(opts SpawnOptions) (*os.Process, error) {
	files := append([]*os.File(nil), opts.Files...)
	std := []*os.File{os.Stdin, os.Stdout, os.Stderr}
	for i := len(files); i < len(std); i++ {
		files = append(files, std[i])
	}

	env := make([]string, 0, len(s.Env)+len(opts.ExtraEnv))
	env = append(env, s.Env...)
	env = append(env, opts.ExtraEnv...)

	attr := &os.ProcAttr{
		Dir:   opts.Dir,
		Env:   env,
		Files: files,
		Sys:   &syscall.SysProcAttr{Setsid: opts.Setsid},
	}

	proc, err := os.StartProcess(s.Binary, opts.Args, attr)
	if err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	return proc, nil
}
