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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpCommandJSON(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, resp HelpResponse)
	}{
		{
			name: "help --json lists all commands",
			args: []string{"help", "--json"},
			check: func(t *testing.T, resp HelpResponse) {
				assert.Equal(t, "help", resp.Command)
				var names []string
				for _, c := range resp.Commands {
					names = append(names, c.Name)
				}
				assert.Equal(t, []string{"restart", "rotate-logs", "start", "status", "stop", "version"}, names)

				var globals []string
				for _, f := range resp.GlobalFlags {
					globals = append(globals, f.Name)
				}
				assert.ElementsMatch(t, []string{"config", "verbose"}, globals)
			},
		},
		{
			name: "help --json for one action",
			args: []string{"help", "rotate-logs", "-j"},
			check: func(t *testing.T, resp HelpResponse) {
				require.NotNil(t, resp.Target)
				assert.Equal(t, "help rotate-logs", resp.Command)
				assert.Equal(t, "rotate-logs", resp.Target.Name)
				assert.Equal(t, "custom", resp.Target.Group)

				flags := make(map[string]FlagMetadata)
				for _, f := range resp.Target.Flags {
					flags[f.Name] = f
				}
				assert.True(t, flags["target"].Required)
				assert.False(t, flags["keep"].Required)
				assert.Equal(t, "3", flags["keep"].Default)
				assert.Equal(t, "k", flags["keep"].Shorthand)
				assert.Equal(t, "stringSlice", flags["tags"].Type)
				assert.Contains(t, flags, "dry-run")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, newDaemon(t, &recorder{}), tt.args...)
			require.NoError(t, err)

			var resp HelpResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.True(t, resp.Success)
			tt.check(t, resp)
		})
	}
}

func TestHelpCommand_Unknown(t *testing.T) {
	_, err := execute(t, newDaemon(t, &recorder{}), "help", "explode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"explode"`)
}
