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
	"bufio"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// containerMarkers are cgroup path fragments that identify PID 1 as a
// container runtime rather than the host's init.
var containerMarkers = []string{"docker", "ecs", "kubepods", "lxc", "containerd", "libpod"}

// detachNecessary reports whether backgrounding would achieve anything.
// A process run by init or a supervisor, or handed a socket on stdin, is
// already detached from any terminal.
func detachNecessary() bool {
	if os.Getpid() == 1 {
		return false
	}
	if os.Getppid() == 1 && !inContainer() {
		return false
	}
	return !isSocket(int(os.Stdin.Fd()))
}

// inContainer reports whether PID 1's cgroups name a container runtime.
func inContainer() bool {
	f, err := os.Open("/proc/1/cgroup")
	if err != nil {
		return false
	}
	defer f.Close()
	return cgroupIsContainer(f)
}

func cgroupIsContainer(r io.Reader) bool {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		// hierarchy-ID:controller-list:cgroup-path
		parts := strings.SplitN(sc.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		for _, marker := range containerMarkers {
			if strings.Contains(parts[2], marker) {
				return true
			}
		}
	}
	return false
}

func isSocket(fd int) bool {
	_, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	return err == nil
}
