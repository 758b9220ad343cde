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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/lifeline/internal/commands/shared"
	"github.com/tombee/lifeline/pkg/daemon"
	lferrors "github.com/tombee/lifeline/pkg/errors"
)

type recorder struct {
	calls  int
	params daemon.Params
}

func newDaemon(t *testing.T, rec *recorder) *daemon.Daemon {
	t.Helper()
	cfg := daemon.DefaultConfig()
	cfg.Prog = "myapp"
	cfg.PIDFile = t.TempDir() + "/myapp.pid"
	cfg.Worker = func(ctx context.Context) error { <-ctx.Done(); return nil }
	cfg.Reporter = &daemon.TextReporter{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}}
	cfg.Actions = []daemon.Action{{
		Name: "rotate_logs",
		Help: "Reopen log files",
		Params: []daemon.Param{
			{Name: "keep", Kind: daemon.ParamInt, Default: 3, Short: "k"},
			{Name: "grace", Kind: daemon.ParamDuration},
			{Name: "dry_run", Kind: daemon.ParamBool},
			{Name: "target", Kind: daemon.ParamString, Required: true},
			{Name: "tags", Kind: daemon.ParamStrings},
		},
		Handler: func(_ context.Context, _ *daemon.Daemon, p daemon.Params) error {
			rec.calls++
			rec.params = p
			return nil
		},
	}}
	d, err := daemon.New(cfg)
	require.NoError(t, err)
	return d
}

func execute(t *testing.T, d *daemon.Daemon, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(d)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	d.SetOutput(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand(newDaemon(t, &recorder{}))

	assert.Equal(t, "myapp", root.Use)
	assert.NotEmpty(t, root.Short)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("verbose"))

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"start", "stop", "restart", "status", "rotate-logs", "version"} {
		assert.Contains(t, names, want)
	}

	stop, _, err := root.Find([]string{"stop"})
	require.NoError(t, err)
	assert.Equal(t, "t", stop.Flags().Lookup("timeout").Shorthand)
	assert.Equal(t, "f", stop.Flags().Lookup("force").Shorthand)
	assert.Equal(t, "lifecycle", stop.Annotations["group"])
}

func TestActionCommand_Params(t *testing.T) {
	rec := &recorder{}
	d := newDaemon(t, rec)

	_, err := execute(t, d, "rotate-logs", "--target", "app", "--grace", "90", "--dry-run", "--tags", "a,b", "--tags", "c")
	require.NoError(t, err)
	require.Equal(t, 1, rec.calls)
	assert.Equal(t, "app", rec.params.String("target"))
	assert.Equal(t, 90*time.Second, rec.params.Duration("grace"))
	assert.True(t, rec.params.Bool("dry_run"))
	assert.Equal(t, []string{"a", "b", "c"}, rec.params.Strings("tags"))
	assert.Equal(t, 3, rec.params.Int("keep"), "default applied by the daemon")

	_, err = execute(t, d, "rotate-logs", "--target=x", "-k", "7")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.params.Int("keep"))
	assert.False(t, rec.params.Has("grace"))
}

func TestActionCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantKind error
		wantCode int
	}{
		{name: "missing required", args: []string{"rotate-logs"}, wantKind: lferrors.ErrMissingParameter, wantCode: lferrors.ExitUsage},
		{name: "bad duration", args: []string{"rotate-logs", "--target", "x", "--grace", "soon"}, wantKind: lferrors.ErrInvalidParameter, wantCode: lferrors.ExitUsage},
		{name: "unknown flag", args: []string{"stop", "--colour"}, wantKind: lferrors.ErrInvalidParameter, wantCode: lferrors.ExitUsage},
		{name: "unknown action", args: []string{"explode"}, wantKind: lferrors.ErrInvalidAction, wantCode: lferrors.ExitUsage},
		{name: "reload from the command line", args: []string{"reload"}, wantKind: lferrors.ErrInvalidAction, wantCode: lferrors.ExitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, newDaemon(t, &recorder{}), tt.args...)
			require.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantCode, lferrors.ExitCode(err))
		})
	}
}

func TestStatusCommand_NotRunning(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out, err := execute(t, newDaemon(t, &recorder{}), "status")
		require.ErrorIs(t, err, lferrors.ErrNotRunning)
		assert.Equal(t, "myapp -- not running\n", out)
		assert.Equal(t, lferrors.ExitNotRunning, lferrors.ExitCode(err))

		var stderr bytes.Buffer
		code := shared.ReportError(&stderr, err)
		assert.Equal(t, lferrors.ExitNotRunning, code)
		assert.Empty(t, stderr.String(), "status line already said it")
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, newDaemon(t, &recorder{}), "status", "-j", "-F", "prog,status")
		require.ErrorIs(t, err, lferrors.ErrNotRunning)
		assert.JSONEq(t, `{"prog":"myapp","status":"stopped"}`, out)
	})

	t.Run("json invalid field", func(t *testing.T) {
		out, err := execute(t, newDaemon(t, &recorder{}), "status", "--json", "--fields", "rss")
		require.ErrorIs(t, err, lferrors.ErrInvalidParameter)

		var resp struct {
			Success bool `json:"success"`
			Error   struct {
				Code     string `json:"code"`
				ExitCode int    `json:"exit_code"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "invalid_parameter", resp.Error.Code)
		assert.Equal(t, lferrors.ExitUsage, resp.Error.ExitCode)

		var stderr bytes.Buffer
		shared.ReportError(&stderr, err)
		assert.Empty(t, stderr.String(), "envelope already written")
	})
}

func TestStopCommand_NotRunning(t *testing.T) {
	cfgOut := &bytes.Buffer{}
	cfg := daemon.DefaultConfig()
	cfg.Prog = "idle"
	cfg.PIDFile = t.TempDir() + "/idle.pid"
	cfg.Reporter = &daemon.TextReporter{Out: cfgOut, Err: cfgOut}
	d, err := daemon.New(cfg)
	require.NoError(t, err)

	_, err = execute(t, d, "stop")
	require.NoError(t, err)
	assert.Equal(t, "WARNING: idle is not running\n", cfgOut.String())
}

func TestParseGlobals(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Globals
	}{
		{name: "none", args: []string{"start"}},
		{name: "long", args: []string{"--config", "/etc/app.yaml", "start", "--debug"}, want: Globals{ConfigPath: "/etc/app.yaml"}},
		{name: "after action", args: []string{"status", "-j", "-c", "x.yaml", "-v"}, want: Globals{ConfigPath: "x.yaml", Verbose: true}},
		{name: "equals", args: []string{"stop", "--config=y.yaml", "--timeout", "5"}, want: Globals{ConfigPath: "y.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseGlobals(tt.args))
		})
	}
}

func TestRun(t *testing.T) {
	rec := &recorder{}
	var seen Globals
	code := Run(context.Background(), func(g Globals) (*daemon.Daemon, error) {
		seen = g
		return newDaemon(t, rec), nil
	}, []string{"rotate-logs", "--target", "x", "-c", "cfg.yaml"})

	assert.Equal(t, 0, code)
	assert.Equal(t, "cfg.yaml", seen.ConfigPath)
	assert.Equal(t, 1, rec.calls)

	code = Run(context.Background(), func(Globals) (*daemon.Daemon, error) {
		return nil, &lferrors.ConfigError{Key: "umask", Reason: "bad"}
	}, nil)
	assert.Equal(t, lferrors.ExitFailure, code)
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2025-12-22")
	out, err := execute(t, newDaemon(t, &recorder{}), "version")
	require.NoError(t, err)
	assert.Equal(t, "myapp 1.2.3 (commit abc123, built 2025-12-22)\n", out)

	v, c, b := GetVersion()
	assert.Equal(t, []string{"1.2.3", "abc123", "2025-12-22"}, []string{v, c, b})
}
