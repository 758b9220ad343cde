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

package shared

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lferrors "github.com/tombee/lifeline/pkg/errors"
)

func TestEmitJSONError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantExit  int
		wantRetry bool
		wantHint  bool
	}{
		{
			name:      "stop timeout",
			err:       &lferrors.DaemonError{Kind: lferrors.KindStopTimeout, Op: "stop", Prog: "app", PID: 7},
			wantCode:  "stop_timeout",
			wantExit:  lferrors.ExitStopTimeout,
			wantRetry: true,
			wantHint:  true,
		},
		{
			name:     "invalid parameter",
			err:      &lferrors.DaemonError{Kind: lferrors.KindInvalidParameter, Op: "status", Message: "invalid status field"},
			wantCode: "invalid_parameter",
			wantExit: lferrors.ExitUsage,
		},
		{
			name:     "config",
			err:      &lferrors.ConfigError{Key: "user", Reason: "unknown user"},
			wantCode: "config",
			wantExit: lferrors.ExitFailure,
			wantHint: true,
		},
		{
			name:     "plain",
			err:      errors.New("boom"),
			wantCode: "unknown",
			wantExit: lferrors.ExitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, EmitJSONError(&buf, "stop", tt.err))

			var resp struct {
				JSONResponse
				Error JSONError `json:"error"`
			}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "1.0", resp.Version)
			assert.Equal(t, "stop", resp.Command)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.wantExit, resp.Error.ExitCode)
			assert.Equal(t, tt.wantRetry, resp.Error.Retryable)
			assert.Equal(t, tt.wantHint, resp.Error.Suggestion != "")
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestEmitJSON_Indented(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EmitJSON(&buf, JSONResponse{Version: "1.0", Command: "status", Success: true}))
	assert.Equal(t, "{\n  \"@version\": \"1.0\",\n  \"command\": \"status\",\n  \"success\": true\n}\n", buf.String())
}
