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

package procstat

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/prometheus/procfs"
)

// Sampler reads /proc.
type Sampler struct {
	fs       procfs.FS
	interval time.Duration
}

// NewSampler returns a sampler over the default /proc mount.
func NewSampler() (*Sampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}
	return &Sampler{fs: fs, interval: DefaultInterval}, nil
}

// Sample aggregates usage over pid's process group. Members that exit
// between the two CPU readings are dropped from the CPU sum.
func (s *Sampler) Sample(ctx context.Context, pid int) (*Sample, error) {
	proc, err := s.fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("reading process %d: %w", pid, err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading stat of %d: %w", pid, err)
	}

	started, err := stat.StartTime()
	if err != nil {
		return nil, fmt.Errorf("reading start time of %d: %w", pid, err)
	}
	sec, frac := math.Modf(started)

	out := &Sample{
		PID:       pid,
		PGID:      stat.PGRP,
		State:     stat.State,
		StartedAt: time.Unix(int64(sec), int64(frac*1e9)),
	}

	members, err := s.group(stat.PGRP)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(members, pid) {
		members = append(members, pid)
	}
	slices.Sort(members)
	if i := slices.Index(members, pid); i > 0 {
		members = append([]int{pid}, slices.Delete(members, i, i+1)...)
	}
	out.Members = members

	first := s.cpuTimes(members)
	start := time.Now()

	timer := time.NewTimer(s.interval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	second := s.cpuTimes(members)
	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		for member, t1 := range second {
			if t0, ok := first[member]; ok && t1 >= t0 {
				out.CPU += (t1 - t0) / elapsed * 100
			}
		}
	}

	memTotal, err := s.memTotal()
	if err != nil {
		return nil, err
	}
	for _, member := range members {
		p, err := s.fs.Proc(member)
		if err != nil {
			continue
		}
		st, err := p.Stat()
		if err != nil {
			continue
		}
		out.Mem += float64(st.ResidentMemory()) / float64(memTotal) * 100
	}

	return out, nil
}

// group lists the PIDs whose process group is pgid.
func (s *Sampler) group(pgid int) ([]int, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	var pids []int
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			continue
		}
		if st.PGRP == pgid && st.PID != 0 {
			pids = append(pids, st.PID)
		}
	}
	return pids, nil
}

func (s *Sampler) cpuTimes(pids []int) map[int]float64 {
	times := make(map[int]float64, len(pids))
	for _, pid := range pids {
		p, err := s.fs.Proc(pid)
		if err != nil {
			continue
		}
		st, err := p.Stat()
		if err != nil {
			continue
		}
		times[pid] = st.CPUTime()
	}
	return times
}

func (s *Sampler) memTotal() (uint64, error) {
	mi, err := s.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("reading meminfo: %w", err)
	}
	if mi.MemTotal == nil || *mi.MemTotal == 0 {
		return 0, fmt.Errorf("reading meminfo: MemTotal missing")
	}
	return *mi.MemTotal * 1024, nil
}
