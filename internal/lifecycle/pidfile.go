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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrInvalidPID is returned when the PID file contains invalid data.
	ErrInvalidPID = errors.New("invalid PID in file")

	// ErrUnsafeDirectory is returned when the PID file parent is
	// world-writable without the sticky bit.
	ErrUnsafeDirectory = errors.New("PID file directory is world-writable")
)

// StaleHandler is called whenever a stale or corrupt PID file is removed.
// pid is 0 when the file could not be parsed.
type StaleHandler func(path string, pid int, reason string)

// PIDFileManager reads and writes the file naming the running instance.
//
// Writes go to a temporary file in the same directory which is then renamed
// over the target, so readers never observe a truncated file. A file naming a
// dead (or zombie) process is stale and is removed by Current.
type PIDFileManager struct {
	path    string
	umask   os.FileMode
	uid     int
	gid     int
	onStale StaleHandler
	alive   func(pid int) bool
}

// PIDFileOption configures a PIDFileManager.
type PIDFileOption func(*PIDFileManager)

// WithUmask sets the umask used for the file (0o666 &^ umask) and for any
// parent directories created (0o777 &^ umask).
func WithUmask(umask int) PIDFileOption {
	return func(m *PIDFileManager) {
		m.umask = os.FileMode(umask) & os.ModePerm
	}
}

// WithOwner chowns directories created by Write. A negative id leaves that
// id unchanged.
func WithOwner(uid, gid int) PIDFileOption {
	return func(m *PIDFileManager) {
		m.uid = uid
		m.gid = gid
	}
}

// WithStaleHandler registers a callback for healed PID files.
func WithStaleHandler(h StaleHandler) PIDFileOption {
	return func(m *PIDFileManager) {
		m.onStale = h
	}
}

// NewPIDFileManager creates a new PID file manager for the given path.
func NewPIDFileManager(path string, opts ...PIDFileOption) *PIDFileManager {
	m := &PIDFileManager{
		path:  path,
		umask: 0o022,
		uid:   -1,
		gid:   -1,
		alive: IsProcessRunning,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the PID file location.
func (m *PIDFileManager) Path() string {
	return m.path
}

// Write records pid, replacing any existing file atomically.
func (m *PIDFileManager) Write(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}

	dir := filepath.Dir(m.path)
	if err := m.verifyDirectorySafety(dir); err != nil {
		return fmt.Errorf("unsafe PID file location: %w", err)
	}
	if err := m.ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(m.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		cleanup()
		return fmt.Errorf("failed to write PID: %w", err)
	}
	if err := tmp.Chmod(0o666 &^ m.umask); err != nil {
		cleanup()
		return fmt.Errorf("failed to set PID file mode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync PID file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close PID file: %w", err)
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to install PID file: %w", err)
	}
	return nil
}

// Read returns the recorded PID. It returns an error satisfying
// errors.Is(err, fs.ErrNotExist) when there is no file and ErrInvalidPID when
// the content is not a positive integer.
func (m *PIDFileManager) Read() (int, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, pidStr)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}
	return pid, nil
}

// IsStale reports whether the file exists but names a process that is gone,
// or holds content that is not a PID. A missing file is not stale.
func (m *PIDFileManager) IsStale() (bool, error) {
	pid, err := m.Read()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case errors.Is(err, ErrInvalidPID):
		return true, nil
	case err != nil:
		return false, err
	}
	return !m.alive(pid), nil
}

// Current returns the live recorded PID. Stale and corrupt files are removed
// (reported through the StaleHandler) and reported as not running.
func (m *PIDFileManager) Current() (pid int, running bool, err error) {
	pid, err = m.Read()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return 0, false, nil
	case errors.Is(err, ErrInvalidPID):
		if rmErr := m.Remove(); rmErr != nil {
			return 0, false, rmErr
		}
		m.stale(0, fmt.Sprintf("Empty or broken pidfile %s; removing", m.path))
		return 0, false, nil
	case err != nil:
		return 0, false, err
	}

	if m.alive(pid) {
		return pid, true, nil
	}
	if err := m.RemoveIfOwned(pid); err != nil {
		return 0, false, err
	}
	m.stale(pid, fmt.Sprintf("process %d no longer exists", pid))
	return 0, false, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (m *PIDFileManager) Remove() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// RemoveIfOwned deletes the PID file only while it still names pid. A
// replacement that already recorded its own PID is left alone.
func (m *PIDFileManager) RemoveIfOwned(pid int) error {
	current, err := m.Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrInvalidPID) {
			return nil
		}
		return err
	}
	if current != pid {
		return nil
	}
	return m.Remove()
}

func (m *PIDFileManager) stale(pid int, reason string) {
	if m.onStale != nil {
		m.onStale(m.path, pid, reason)
	}
}

// ensureDir creates dir and any missing parents with 0o777 &^ umask and
// chowns each created directory.
func (m *PIDFileManager) ensureDir(dir string) error {
	return MkdirAllOwned(dir, 0o777&^m.umask, m.uid, m.gid)
}

// MkdirAllOwned is os.MkdirAll that chowns every directory it creates.
func MkdirAllOwned(dir string, perm os.FileMode, uid, gid int) error {
	var created []string
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to stat directory: %w", err)
		}
		created = append(created, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}

	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if uid < 0 && gid < 0 {
		return nil
	}
	for _, d := range created {
		if err := os.Chown(d, uid, gid); err != nil {
			return fmt.Errorf("failed to chown directory %s: %w", d, err)
		}
	}
	return nil
}

// verifyDirectorySafety rejects world-writable parents unless the sticky
// bit is set, as on /tmp.
func (m *PIDFileManager) verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	mode := info.Mode()
	if mode&0o002 != 0 && mode&os.ModeSticky == 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, mode&os.ModePerm)
	}
	return nil
}
