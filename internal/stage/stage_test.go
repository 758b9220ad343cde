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

package stage

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lferrors "github.com/tombee/lifeline/pkg/errors"
)

func TestMarker_EnvRoundTrip(t *testing.T) {
	m := Marker{Stage: Worker, AttemptID: "abc", ReloadFrom: 42}
	kv, err := m.Env()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(kv, EnvKey+"="))

	t.Setenv(EnvKey, strings.TrimPrefix(kv, EnvKey+"="))
	got, ok, err := Consume()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m, got)
	assert.True(t, got.IsReload())

	_, present := os.LookupEnv(EnvKey)
	assert.False(t, present, "marker should be unset after Consume")
}

func TestConsume_Unmarked(t *testing.T) {
	t.Setenv(EnvKey, "")
	os.Unsetenv(EnvKey)

	_, ok, err := Consume()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", "yes"},
		{"caller stage", `{"stage":0}`},
		{"unknown stage", `{"stage":9}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.value)
			assert.Error(t, err)
		})
	}
}

func TestStripEnv(t *testing.T) {
	env := []string{"PATH=/bin", EnvKey + `={"stage":1}`, "HOME=/root"}
	assert.Equal(t, []string{"PATH=/bin", "HOME=/root"}, StripEnv(env))
}

func TestReport_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, Ready(1234)))

	rep, err := ReadReport(&buf)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, rep.Outcome)
	assert.Equal(t, 1234, rep.PID)
	assert.NoError(t, rep.Err())
}

func TestReadReport_EmptyPipe(t *testing.T) {
	_, err := ReadReport(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestDiedEarly(t *testing.T) {
	t.Run("exit status", func(t *testing.T) {
		// Exit status 3 is encoded in the high byte of the wait status.
		rep := DiedEarly(10, syscall.WaitStatus(3<<8))
		err := rep.Err()
		require.ErrorIs(t, err, lferrors.ErrDiedEarly)

		var de *lferrors.DaemonError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, 3, de.ExitCode)
		assert.Equal(t, syscall.Signal(0), de.Signal)
	})

	t.Run("signal", func(t *testing.T) {
		rep := DiedEarly(10, syscall.WaitStatus(syscall.SIGKILL))
		var de *lferrors.DaemonError
		require.True(t, errors.As(rep.Err(), &de))
		assert.Equal(t, syscall.SIGKILL, de.Signal)
		assert.Contains(t, de.Error(), "SIGKILL")
	})
}

func TestFromError_KeepsKind(t *testing.T) {
	src := &lferrors.DaemonError{Kind: lferrors.KindPrivilege, Message: "Unable to setuid"}
	rep := FromError(src)
	assert.Equal(t, OutcomeError, rep.Outcome)

	err := rep.Err()
	assert.ErrorIs(t, err, lferrors.ErrPrivilege)
	assert.Equal(t, "Unable to setuid", err.Error())

	plain := FromError(errors.New("boom")).Err()
	assert.ErrorIs(t, plain, lferrors.ErrStartFailed)
}

func TestFromError_DropsOp(t *testing.T) {
	src := &lferrors.DaemonError{
		Kind:    lferrors.KindPIDFile,
		Op:      "start",
		Message: "unable to write PID file",
		Cause:   errors.New("permission denied"),
	}
	err := FromError(src).Err()

	var de *lferrors.DaemonError
	require.True(t, errors.As(err, &de))
	assert.Empty(t, de.Op)
	de.Op = "start"
	assert.Equal(t, "start: unable to write PID file: permission denied", err.Error())
}
