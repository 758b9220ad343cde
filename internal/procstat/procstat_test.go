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
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler_Self(t *testing.T) {
	s, err := NewSampler()
	require.NoError(t, err)
	s.interval = 20 * time.Millisecond

	sample, err := s.Sample(context.Background(), os.Getpid())
	require.NoError(t, err)

	assert.Equal(t, os.Getpid(), sample.PID)
	assert.Equal(t, syscall.Getpgrp(), sample.PGID)
	require.NotEmpty(t, sample.Members)
	assert.Equal(t, os.Getpid(), sample.Members[0])
	assert.GreaterOrEqual(t, sample.CPU, 0.0)
	assert.Greater(t, sample.Mem, 0.0)
	assert.False(t, sample.StartedAt.After(time.Now()))
	assert.GreaterOrEqual(t, sample.Uptime(time.Now()), time.Duration(0))
}

func TestSampler_AggregatesGroup(t *testing.T) {
	// Two children in a fresh process group led by the first.
	leader := exec.Command("sleep", "30")
	leader.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, leader.Start())
	t.Cleanup(func() { leader.Process.Kill(); leader.Wait() })

	member := exec.Command("sleep", "30")
	member.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: leader.Process.Pid}
	require.NoError(t, member.Start())
	t.Cleanup(func() { member.Process.Kill(); member.Wait() })

	s, err := NewSampler()
	require.NoError(t, err)
	s.interval = 20 * time.Millisecond

	sample, err := s.Sample(context.Background(), leader.Process.Pid)
	require.NoError(t, err)

	assert.Equal(t, leader.Process.Pid, sample.PGID)
	assert.ElementsMatch(t, []int{leader.Process.Pid, member.Process.Pid}, sample.Members)
	assert.Equal(t, leader.Process.Pid, sample.Members[0])

	single, err := s.Sample(context.Background(), member.Process.Pid)
	require.NoError(t, err)
	assert.InDelta(t, sample.Mem, single.Mem, 0.5, "both samples cover the same group")
}

func TestSampler_MissingProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	s, err := NewSampler()
	require.NoError(t, err)
	_, err = s.Sample(context.Background(), cmd.Process.Pid)
	assert.Error(t, err)
}

func TestSampler_Cancelled(t *testing.T) {
	s, err := NewSampler()
	require.NoError(t, err)
	s.interval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sample(ctx, os.Getpid())
	assert.ErrorIs(t, err, context.Canceled)
}
