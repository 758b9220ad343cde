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

//go:build linux

package fdset

import (
	"os"
	"strconv"
	"strings"
)

var runtimeLinks = []string{
	"anon_inode:[eventpoll]",
	"anon_inode:[eventfd]",
	"anon_inode:[pidfd]",
}

// isRuntimeFD reports descriptors the Go runtime owns: the netpoller's
// epoll and eventfd, and pidfds held by os.Process values.
func isRuntimeFD(fd int) bool {
	target, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(fd))
	if err != nil {
		return false
	}
	for _, link := range runtimeLinks {
		if strings.HasPrefix(target, link) {
			return true
		}
	}
	return false
}
