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

// Package procstat samples resource usage of a process and every process
// sharing its process group.
package procstat

import (
	"errors"
	"time"
)

// ErrUnsupported is returned on platforms without procfs.
var ErrUnsupported = errors.New("process sampling is not supported on this platform")

// DefaultInterval is the gap between the two CPU samples.
const DefaultInterval = 100 * time.Millisecond

// Sample is the aggregated usage of one process group.
type Sample struct {
	// PID is the process the sample was requested for.
	PID int

	// PGID is its process group.
	PGID int

	// Members lists every PID in the group, PID first.
	Members []int

	// State is the kernel state letter of PID (R, S, D, Z, ...).
	State string

	// StartedAt is when PID started.
	StartedAt time.Time

	// CPU is the summed CPU utilisation over the sampling interval, in
	// percent of one core.
	CPU float64

	// Mem is the summed resident memory in percent of physical memory.
	Mem float64
}

// Uptime returns the time since StartedAt, never negative.
func (s *Sample) Uptime(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}
