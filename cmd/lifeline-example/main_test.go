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

package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/lifeline/pkg/daemon"
)

func newHeartbeat(t *testing.T) *heartbeat {
	t.Helper()
	cfg := daemon.DefaultConfig()
	cfg.Prog = "example"
	cfg.PIDFile = t.TempDir() + "/example.pid"
	d, err := daemon.New(cfg)
	require.NoError(t, err)
	return &heartbeat{d: d, every: 10 * time.Millisecond}
}

func TestHeartbeat_Run(t *testing.T) {
	hb := newHeartbeat(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hb.Run(ctx) }()

	require.Eventually(t, func() bool { return hb.beats.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not return after cancel")
	}
}

func TestHeartbeat_Metrics(t *testing.T) {
	hb := newHeartbeat(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hb.metricsAddr = ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hb.Run(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + hb.metricsAddr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	assert.Contains(t, body, `lifeline_daemon_up{prog="example"} 0`)
	assert.Contains(t, body, "lifeline_example_heartbeats_total")
}

func TestListenRetry(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := busy.Addr().String()

	time.AfterFunc(100*time.Millisecond, func() { _ = busy.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ln, err := listenRetry(ctx, addr, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	t.Run("gives up on other errors", func(t *testing.T) {
		_, err := listenRetry(ctx, "not-an-address", time.Millisecond)
		require.Error(t, err)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		held, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer held.Close()

		short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = listenRetry(short, held.Addr().String(), 10*time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestDefaultPIDFile(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/demo/demo.pid", defaultPIDFile("demo"))

	t.Setenv("XDG_RUNTIME_DIR", "")
	got := defaultPIDFile("demo")
	assert.True(t, strings.HasSuffix(got, ".pid"))
	assert.Contains(t, got, "demo-")
}

func TestRefreshAction_NotRunning(t *testing.T) {
	cfg := daemon.DefaultConfig()
	cfg.Prog = "example"
	cfg.PIDFile = t.TempDir() + "/example.pid"
	cfg.Actions = []daemon.Action{refreshAction()}
	d, err := daemon.New(cfg)
	require.NoError(t, err)

	err = d.DoAction(context.Background(), "refresh", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}
