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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/lifeline/internal/stage"
	lferrors "github.com/tombee/lifeline/pkg/errors"
)

func TestConfig_Normalize(t *testing.T) {
	t.Run("relative paths become absolute", func(t *testing.T) {
		cwd, err := os.Getwd()
		require.NoError(t, err)

		c := DefaultConfig()
		c.PIDFile = "run/app.pid"
		c.StdoutFile = "log/out"
		c.WatchPaths = []string{"app.yaml"}
		require.NoError(t, c.normalize())
		assert.Equal(t, filepath.Join(cwd, "run/app.pid"), c.PIDFile)
		assert.Equal(t, filepath.Join(cwd, "log/out"), c.StdoutFile)
		assert.Equal(t, []string{filepath.Join(cwd, "app.yaml")}, c.WatchPaths)
		assert.NotEmpty(t, c.Prog)
	})

	tests := []struct {
		name string
		mut  func(*Config)
		key  string
	}{
		{name: "umask too large", mut: func(c *Config) { c.Umask = 0o1000 }, key: "umask"},
		{name: "negative umask", mut: func(c *Config) { c.Umask = -1 }, key: "umask"},
		{name: "reload on SIGTERM", mut: func(c *Config) { c.ReloadSignal = syscall.SIGTERM }, key: "reload_signal"},
		{name: "reload on SIGKILL", mut: func(c *Config) { c.ReloadSignal = syscall.SIGKILL }, key: "reload_signal"},
		{name: "chroot missing", mut: func(c *Config) { c.ChrootDir = "/does/not/exist" }, key: "chroot_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mut(&c)
			err := c.normalize()

			var ce *lferrors.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.key, ce.Key)
		})
	}
}

func TestConfig_ChrootViews(t *testing.T) {
	root := t.TempDir()
	c := DefaultConfig()
	c.ChrootDir = root
	c.PIDFile = "run/app.pid"
	require.NoError(t, c.normalize())

	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	assert.Equal(t, "run/app.pid", c.PIDFile, "paths stay jail-relative")
	assert.Equal(t, filepath.Join(resolved, "run/app.pid"), c.hostPath(c.PIDFile))
	assert.Equal(t, "/run/app.pid", c.jailPath(c.PIDFile))
	assert.Equal(t, filepath.Join(resolved, "etc/passwd"), c.hostPath("/../etc/passwd"), "cannot escape the jail")
	assert.Empty(t, c.hostPath(""))

	var plain Config
	assert.Equal(t, "rel/x", plain.hostPath("rel/x"))
	assert.Equal(t, -1, plain.uid())

	uid := 0
	plain.UID = &uid
	assert.Equal(t, 0, plain.uid())
}

func TestExitError(t *testing.T) {
	tests := []struct {
		err        *ExitError
		wantMsg    string
		wantStatus int
	}{
		{&ExitError{Code: 2}, "exit status 2", 2},
		{&ExitError{Message: "bye"}, "bye", 1},
		{&ExitError{Code: 7, Message: "bye"}, "bye", 7},
		{&ExitError{}, "exit status 0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
			assert.Equal(t, tt.wantStatus, tt.err.ExitStatus())
			assert.Equal(t, tt.wantStatus, lferrors.ExitCode(tt.err))
		})
	}
}

func TestTextReporter(t *testing.T) {
	var out, errOut bytes.Buffer
	r := &TextReporter{Out: &out, Err: &errOut}

	r.Progress("Starting app ... ")
	r.OK()
	r.OK()
	r.Progress("Stopping app ... ")
	r.Warn("app is slow")
	r.Failed()
	r.Info("done")

	assert.Equal(t, "Starting app ... OK\nStopping app ... \ndone\n", out.String())
	assert.Equal(t, "WARNING: app is slow\n", errOut.String())
}

func TestCgroupIsContainer(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "host v1", in: "12:pids:/\n11:memory:/init.scope\n", want: false},
		{name: "host v2", in: "0::/init.scope\n", want: false},
		{name: "docker", in: "12:pids:/docker/3f2a\n", want: true},
		{name: "kubernetes", in: "0::/kubepods/burstable/pod1/abc\n", want: true},
		{name: "lxc", in: "5:cpuset:/lxc/web\n", want: true},
		{name: "malformed", in: "docker\n", want: false},
		{name: "empty", in: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cgroupIsContainer(strings.NewReader(tt.in)))
		})
	}
}

func TestIsSocket(t *testing.T) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])
	assert.True(t, isSocket(fds[0]))

	f, err := os.CreateTemp(t.TempDir(), "plain")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, isSocket(int(f.Fd())))
}

func TestProcTitle(t *testing.T) {
	assert.Equal(t, "app: worker", procTitle("app", stage.Worker, nil))
	assert.Equal(t, "app: intermediate start --debug", procTitle("app", stage.Intermediate, []string{"start", "--debug"}))
}

func TestExecWorker_Resolve(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "tool")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(bin, link))

	got, err := resolveProgram(link)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(bin)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	w := ExecWorker("lifeline-no-such-program-on-path")
	err = w(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec worker")
}
