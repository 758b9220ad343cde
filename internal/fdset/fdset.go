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

// Package fdset records the file descriptors open at a point in time so
// that exactly those can be closed later, leaving descriptors opened
// afterwards untouched.
package fdset

import (
	"errors"
	"os"
	"slices"
	"strconv"

	"golang.org/x/sys/unix"
)

// scanLimit bounds the fstat fallback used when no fd directory exists.
const scanLimit = 1024

// fdDirs are tried in order.
var fdDirs = []string{"/proc/self/fd", "/dev/fd"}

// Set is an immutable snapshot of open descriptors.
type Set struct {
	fds []int
}

// Snapshot lists the descriptors open right now, excluding descriptors that
// belong to the Go runtime's poller.
func Snapshot() *Set {
	var fds []int
	for _, dir := range fdDirs {
		list, err := listDir(dir)
		if err == nil {
			fds = list
			break
		}
	}
	if fds == nil {
		fds = scan(scanLimit)
	}

	kept := fds[:0]
	for _, fd := range fds {
		if isOpen(fd) && !isRuntimeFD(fd) {
			kept = append(kept, fd)
		}
	}
	slices.Sort(kept)
	return &Set{fds: slices.Compact(kept)}
}

// contains reports whether fd was open at snapshot time.
func (s *Set) contains(fd int) bool {
	_, found := slices.BinarySearch(s.fds, fd)
	return found
}

// Close closes every recorded descriptor except those in keep. A
// descriptor that is no longer open, or whose number now belongs to the
// runtime poller, is skipped. The first unexpected close error is returned
// after all descriptors have been processed.
func (s *Set) Close(keep ...int) error {
	var firstErr error
	for _, fd := range s.fds {
		if slices.Contains(keep, fd) {
			continue
		}
		if !isOpen(fd) || isRuntimeFD(fd) {
			continue
		}
		if err := unix.Close(fd); err != nil && !errors.Is(err, unix.EBADF) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func listDir(dir string) ([]int, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	self := int(f.Fd())
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, err
	}

	fds := make([]int, 0, len(names))
	for _, name := range names {
		fd, err := strconv.Atoi(name)
		if err != nil || fd == self {
			continue
		}
		fds = append(fds, fd)
	}
	return fds, nil
}

func scan(limit int) []int {
	var fds []int
	for fd := 0; fd < limit; fd++ {
		if isOpen(fd) {
			fds = append(fds, fd)
		}
	}
	return fds
}

func isOpen(fd int) bool {
	var st unix.Stat_t
	return unix.Fstat(fd, &st) == nil
}
