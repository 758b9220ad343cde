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
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockBusy is returned when the control lock could not be acquired before
// the context ended.
var ErrLockBusy = errors.New("another lifecycle operation is in progress")

// ControlLock serialises start, stop, restart and reload invocations that
// target the same PID file. It is an advisory flock on "<pidfile>.lock"; the
// PID file itself stays a plain text file.
type ControlLock struct {
	fl    *flock.Flock
	umask os.FileMode
	uid   int
	gid   int
}

// LockOption configures a ControlLock.
type LockOption func(*ControlLock)

// WithLockOwner sets the umask for directories the lock creates and the
// owner given to them and to the lock file. A negative id leaves that id
// unchanged.
func WithLockOwner(umask, uid, gid int) LockOption {
	return func(l *ControlLock) {
		l.umask = os.FileMode(umask) & os.ModePerm
		l.uid = uid
		l.gid = gid
	}
}

// NewControlLock returns the control lock for the given PID file path.
func NewControlLock(pidPath string, opts ...LockOption) *ControlLock {
	l := &ControlLock{
		fl:    flock.New(pidPath + ".lock"),
		umask: 0o022,
		uid:   -1,
		gid:   -1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock file location.
func (l *ControlLock) Path() string {
	return l.fl.Path()
}

// Lock blocks until the lock is held or ctx is done.
func (l *ControlLock) Lock(ctx context.Context) error {
	if err := MkdirAllOwned(filepath.Dir(l.fl.Path()), 0o777&^l.umask, l.uid, l.gid); err != nil {
		return err
	}
	ok, err := l.fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrLockBusy, l.fl.Path())
		}
		return fmt.Errorf("failed to lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockBusy, l.fl.Path())
	}
	if err := l.chown(); err != nil {
		_ = l.fl.Unlock()
		return err
	}
	return nil
}

// chown gives the lock file to the configured owner when running as root.
func (l *ControlLock) chown() error {
	if (l.uid < 0 && l.gid < 0) || os.Geteuid() != 0 {
		return nil
	}
	if err := os.Chown(l.fl.Path(), l.uid, l.gid); err != nil {
		return fmt.Errorf("failed to chown %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Unlock releases the lock. The lock file is left in place; removing it
// would let two processes lock different inodes.
func (l *ControlLock) Unlock() error {
	return l.fl.Unlock()
}
