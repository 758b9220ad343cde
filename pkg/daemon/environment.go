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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tombee/lifeline/internal/lifecycle"
	"github.com/tombee/lifeline/internal/stage"
	lferrors "github.com/tombee/lifeline/pkg/errors"
	"golang.org/x/sys/unix"
)

const devNull = "/dev/null"

// prepare applies the worker's process environment. The order matters:
// directories are created while the host filesystem is still visible,
// chroot happens while still privileged, and the group changes before the
// user. Streams are rewired only when detached.
func (d *Daemon) prepare(detached bool) error {
	unix.Umask(d.cfg.Umask)

	if err := preventCoreDump(); err != nil {
		return lferrors.WrapKind(err, lferrors.KindStartFailed, "start", "unable to disable core dumps")
	}

	if err := d.makeDirs(); err != nil {
		return err
	}

	if root := d.cfg.ChrootDir; root != "" {
		if err := unix.Chdir(root); err != nil {
			return lferrors.WrapKind(err, lferrors.KindPrivilege, "start", "unable to change root directory")
		}
		if err := unix.Chroot(root); err != nil {
			return lferrors.WrapKind(err, lferrors.KindPrivilege, "start", "unable to change root directory")
		}
		d.useView(d.cfg.jailPath)
	}

	if err := unix.Chdir(d.cfg.jailPath(d.cfg.WorkDir)); err != nil {
		return lferrors.WrapKind(err, lferrors.KindStartFailed, "start", "unable to change working directory")
	}

	if err := d.dropPrivileges(); err != nil {
		return err
	}

	if !detached {
		return nil
	}
	if err := d.redirectStreams(); err != nil {
		return err
	}
	if d.cfg.CloseOpenFiles {
		if err := d.fds.Close(0, 1, 2, stage.ReportFD); err != nil {
			return lferrors.WrapKind(err, lferrors.KindStartFailed, "start", "unable to close open files")
		}
	}
	return nil
}

func preventCoreDump() error {
	return unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
}

// makeDirs creates the parent directories of every configured file in the
// host view, owned by the worker's future identity.
func (d *Daemon) makeDirs() error {
	perm := os.FileMode(0o777 &^ d.cfg.Umask)
	uid, gid := d.cfg.uid(), d.cfg.gid()

	files := []struct {
		path string
		kind lferrors.Kind
	}{
		{d.cfg.PIDFile, lferrors.KindPIDFile},
		{d.cfg.StdoutFile, lferrors.KindStartFailed},
		{d.cfg.StderrFile, lferrors.KindStartFailed},
		{d.cfg.LifecycleLog, lferrors.KindStartFailed},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		dir := filepath.Dir(d.cfg.hostPath(f.path))
		if err := lifecycle.MkdirAllOwned(dir, perm, uid, gid); err != nil {
			return lferrors.WrapKind(err, f.kind, "start", "unable to create directory "+dir)
		}
	}
	return nil
}

// dropPrivileges switches group, then user. The syscall package is used
// because its Setuid and Setgid apply to every thread of the process.
func (d *Daemon) dropPrivileges() error {
	if gid := d.cfg.gid(); gid >= 0 {
		if unix.Geteuid() == 0 {
			if err := syscall.Setgroups([]int{gid}); err != nil {
				return lferrors.WrapKind(err, lferrors.KindPrivilege, "start", "unable to set supplementary groups")
			}
		}
		if err := syscall.Setgid(gid); err != nil {
			return lferrors.WrapKind(err, lferrors.KindPrivilege, "start", fmt.Sprintf("unable to setgid to %d", gid))
		}
	}
	if uid := d.cfg.uid(); uid >= 0 {
		if err := syscall.Setuid(uid); err != nil {
			return lferrors.WrapKind(err, lferrors.KindPrivilege, "start", fmt.Sprintf("unable to setuid to %d", uid))
		}
	}
	return nil
}

// redirectStreams points stdin at /dev/null and stdout/stderr at the
// configured files or /dev/null. Paths are already in the jail view.
func (d *Daemon) redirectStreams() error {
	stdoutPath := d.cfg.jailPath(d.cfg.StdoutFile)
	stderrPath := d.cfg.jailPath(d.cfg.StderrFile)

	null, err := os.OpenFile(devNull, os.O_RDWR, 0)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if stdoutPath == "" || stderrPath == "" {
			return lferrors.Newf(lferrors.KindStartFailed, "start",
				"stdout and stderr files must be provided when %s does not exist (e.g. in a chroot jail)", devNull)
		}
	case err != nil:
		return lferrors.WrapKind(err, lferrors.KindStartFailed, "start", "unable to open "+devNull)
	}
	if null != nil {
		defer null.Close()
	}

	if err := redirectStdin(null); err != nil {
		return lferrors.WrapKind(err, lferrors.KindStartFailed, "start", "unable to redirect stdin")
	}

	var stdout *os.File
	if stdoutPath != "" {
		stdout, err = openAppend(stdoutPath)
		if err != nil {
			return lferrors.WrapKind(err, lferrors.KindStartFailed, "start", "unable to open stdout file")
		}
		defer stdout.Close()
	}

	stderr := stdout
	if stderrPath != "" && stderrPath != stdoutPath {
		stderr, err = openAppend(stderrPath)
		if err != nil {
			return lferrors.WrapKind(err, lferrors.KindStartFailed, "start", "unable to open stderr file")
		}
		defer stderr.Close()
	} else if stderrPath == "" {
		stderr = nil
	}

	for fd, f := range map[int]*os.File{1: orNull(stdout, null), 2: orNull(stderr, null)} {
		if err := dup2(int(f.Fd()), fd); err != nil {
			return lferrors.WrapKind(err, lferrors.KindStartFailed, "start", fmt.Sprintf("unable to redirect fd %d", fd))
		}
	}
	return nil
}

// redirectStdin uses an empty pipe when /dev/null is unavailable, so reads
// return EOF.
func redirectStdin(null *os.File) error {
	if null != nil {
		return dup2(int(null.Fd()), 0)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return err
	}
	w.Close()
	defer r.Close()
	return dup2(int(r.Fd()), 0)
}

// openAppend opens path for appending. The process umask has already been
// applied, so the mode is 0o666 &^ umask.
func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
}

func orNull(f, null *os.File) *os.File {
	if f != nil {
		return f
	}
	return null
}
