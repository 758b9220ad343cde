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

package fdset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSnapshot_IncludesStandardStreams(t *testing.T) {
	s := Snapshot()
	for _, fd := range []int{0, 1, 2} {
		if isOpen(fd) {
			assert.True(t, s.contains(fd), "fd %d missing from snapshot", fd)
		}
	}
}

func TestClose_OnlySnapshottedDescriptors(t *testing.T) {
	dir := t.TempDir()

	// A raw descriptor, so no *os.File finalizer closes it a second time.
	beforeFD, err := unix.Open(filepath.Join(dir, "before"), unix.O_CREAT|unix.O_WRONLY|unix.O_CLOEXEC, 0o644)
	require.NoError(t, err)

	s := Snapshot()
	require.True(t, s.contains(beforeFD))

	after, err := os.Create(filepath.Join(dir, "after"))
	require.NoError(t, err)
	defer after.Close()
	require.False(t, s.contains(int(after.Fd())))

	// Only close the descriptor under test; the rest of the snapshot
	// belongs to the test binary.
	keep := make([]int, 0, len(s.fds))
	for _, fd := range s.fds {
		if fd != beforeFD {
			keep = append(keep, fd)
		}
	}
	require.NoError(t, s.Close(keep...))

	var st unix.Stat_t
	assert.Error(t, unix.Fstat(beforeFD, &st), "snapshotted fd should be closed")
	assert.NoError(t, unix.Fstat(int(after.Fd()), &st), "later fd should stay open")
}

func TestSnapshot_ExcludesRuntimeDescriptors(t *testing.T) {
	for _, fd := range Snapshot().fds {
		assert.False(t, isRuntimeFD(fd), "runtime fd %d recorded", fd)
	}
}

func TestScan(t *testing.T) {
	fds := scan(3)
	for _, fd := range fds {
		assert.Less(t, fd, 3)
	}
}
