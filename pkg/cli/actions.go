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
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tombee/lifeline/internal/commands/shared"
	"github.com/tombee/lifeline/pkg/daemon"
	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// annotationRequired marks flags backed by required action parameters.
// Presence is checked by the daemon so a missing value maps to its usage
// exit status.
const annotationRequired = "lifeline_required"

var lifecycleActions = []string{"start", "stop", "restart", "status"}

// flagName maps an action parameter name to its flag name.
func flagName(param string) string {
	return strings.ReplaceAll(param, "_", "-")
}

func newActionCommand(d *daemon.Daemon, a daemon.Action) *cobra.Command {
	group := "custom"
	if slices.Contains(lifecycleActions, a.Name) {
		group = "lifecycle"
	}

	cmd := &cobra.Command{
		Use:         a.Name,
		Short:       a.Help,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"group": group},
	}

	getters := make(map[string]func() any, len(a.Params))
	for _, p := range a.Params {
		getters[p.Name] = addParamFlag(cmd.Flags(), p)
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		params := daemon.Params{}
		for _, p := range a.Params {
			if cmd.Flags().Changed(flagName(p.Name)) {
				params[p.Name] = getters[p.Name]()
			}
		}

		err := d.DoAction(cmd.Context(), a.Name, params)
		if err != nil && params.Bool("json") {
			var uv lferrors.UserVisibleError
			if errors.As(err, &uv) && !uv.IsUserVisible() {
				return err
			}
			if emitErr := shared.EmitJSONError(cmd.OutOrStdout(), a.Name, err); emitErr != nil {
				return errors.Join(err, emitErr)
			}
			return shownError{err}
		}
		return err
	}
	return cmd
}

// addParamFlag registers a flag for p and returns a getter for its value.
// Durations are taken as strings so that bare numbers mean seconds.
func addParamFlag(fs *pflag.FlagSet, p daemon.Param) func() any {
	name := flagName(p.Name)
	usage := p.Help
	def := ""
	if p.Default != nil {
		def = fmt.Sprint(p.Default)
	}

	var get func() any
	switch p.Kind {
	case daemon.ParamBool:
		b, _ := p.Default.(bool)
		v := fs.BoolP(name, p.Short, b, usage)
		get = func() any { return *v }
	case daemon.ParamInt:
		n, _ := p.Default.(int)
		v := fs.IntP(name, p.Short, n, usage)
		get = func() any { return *v }
	case daemon.ParamStrings:
		list, _ := p.Default.([]string)
		v := fs.StringSliceP(name, p.Short, list, usage)
		get = func() any { return *v }
	default:
		v := fs.StringP(name, p.Short, def, usage)
		get = func() any { return *v }
	}

	if p.Required {
		_ = fs.SetAnnotation(name, annotationRequired, []string{"true"})
	}
	return get
}

// shownError wraps an error that has already been written out, so only its
// exit status remains to be reported.
type shownError struct {
	error
}

func (e shownError) Unwrap() error { return e.error }
func (e shownError) IsUserVisible() bool { return false }
func (e shownError) UserMessage() string { return e.Error() }
func (e shownError) Suggestion() string { return "" }
