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

package daemon

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	lflog "github.com/tombee/lifeline/internal/log"
	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// ParamKind is the type of an action parameter.
type ParamKind int

const (
	ParamBool ParamKind = iota
	ParamInt
	ParamDuration
	ParamString
	ParamStrings
)

func (k ParamKind) String() string {
	switch k {
	case ParamBool:
		return "bool"
	case ParamInt:
		return "int"
	case ParamDuration:
		return "duration"
	case ParamString:
		return "string"
	case ParamStrings:
		return "strings"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// Param describes one action parameter. It is metadata for front ends; the
// dispatcher only checks presence and type.
type Param struct {
	Name     string
	Kind     ParamKind
	Required bool
	Default  any
	Help     string

	// Short is an optional one-letter flag alias.
	Short string
}

// Params holds parameter values by name.
type Params map[string]any

// Has reports whether name was supplied or defaulted.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Bool returns the named bool, or false.
func (p Params) Bool(name string) bool {
	v, _ := p[name].(bool)
	return v
}

// Int returns the named int, or 0.
func (p Params) Int(name string) int {
	v, _ := p[name].(int)
	return v
}

// Duration returns the named duration, or 0.
func (p Params) Duration(name string) time.Duration {
	v, _ := p[name].(time.Duration)
	return v
}

// String returns the named string, or "".
func (p Params) String(name string) string {
	v, _ := p[name].(string)
	return v
}

// Strings returns the named list, or nil.
func (p Params) Strings(name string) []string {
	v, _ := p[name].([]string)
	return v
}

// ActionFunc handles an action.
type ActionFunc func(ctx context.Context, d *Daemon, p Params) error

// Action is a named operation exposed to front ends.
type Action struct {
	Name    string
	Help    string
	Params  []Param
	Handler ActionFunc
}

// NormalizeName maps an action name to its registered form: trimmed, with
// underscores replaced by dashes.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "_", "-")
}

const reloadAction = "reload"

func builtinActions() []Action {
	debug := Param{Name: "debug", Kind: ParamBool, Help: "Do not detach and run in the foreground", Short: "d"}
	timeout := Param{Name: "timeout", Kind: ParamDuration, Help: "Time to wait for the process to exit (default from configuration)", Short: "t"}
	force := Param{Name: "force", Kind: ParamBool, Help: "Kill the process if it does not exit within the timeout", Short: "f"}

	return []Action{
		{
			Name:   "start",
			Help:   "Start the daemon",
			Params: []Param{debug},
			Handler: func(ctx context.Context, d *Daemon, p Params) error {
				_, err := d.Start(ctx, StartOptions{Debug: p.Bool("debug")})
				return err
			},
		},
		{
			Name:   "stop",
			Help:   "Stop the daemon",
			Params: []Param{timeout, force},
			Handler: func(ctx context.Context, d *Daemon, p Params) error {
				return d.Stop(ctx, StopOptions{Timeout: p.Duration("timeout"), Force: p.Bool("force")})
			},
		},
		{
			Name:   "restart",
			Help:   "Stop then start the daemon",
			Params: []Param{debug, timeout, force},
			Handler: func(ctx context.Context, d *Daemon, p Params) error {
				_, err := d.Restart(ctx, RestartOptions{
					Debug:   p.Bool("debug"),
					Timeout: p.Duration("timeout"),
					Force:   p.Bool("force"),
				})
				return err
			},
		},
		{
			Name: "status",
			Help: "Get the status of the daemon",
			Params: []Param{
				{Name: "json", Kind: ParamBool, Help: "Show the status in JSON format", Short: "j"},
				{Name: "fields", Kind: ParamStrings, Help: "Comma-separated list of fields to show (" + strings.Join(StatusFields, ", ") + ")", Short: "F"},
			},
			Handler: statusAction,
		},
	}
}

// statusAction prints the status. A daemon that is not running is printed
// as such and reported as an already-shown NotRunning error so front ends
// only map it to an exit code.
func statusAction(ctx context.Context, d *Daemon, p Params) error {
	fields := p.Strings("fields")
	if err := ValidateFields(fields); err != nil {
		return err
	}

	st, err := d.Status(ctx)
	if st == nil {
		return err
	}

	if p.Bool("json") {
		data, mErr := st.MarshalFields(fields)
		if mErr != nil {
			return mErr
		}
		fmt.Fprintln(d.out, string(data))
	} else {
		line, fErr := st.Format(fields)
		if fErr != nil {
			return fErr
		}
		fmt.Fprintln(d.out, line)
	}

	var de *lferrors.DaemonError
	if lferrors.As(err, &de) && de.Kind == lferrors.KindNotRunning {
		de.Reported = true
	}
	return err
}

// registry is the immutable, ordered action table.
type registry struct {
	order  []string
	byName map[string]Action
}

func newRegistry(custom []Action) (*registry, error) {
	r := &registry{byName: make(map[string]Action)}
	for _, a := range builtinActions() {
		r.add(a)
	}
	for _, a := range custom {
		a.Name = NormalizeName(a.Name)
		switch {
		case a.Name == "":
			return nil, &lferrors.ConfigError{Key: "actions", Reason: "action name is empty"}
		case a.Handler == nil:
			return nil, &lferrors.ConfigError{Key: "actions", Reason: fmt.Sprintf("action %q has no handler", a.Name)}
		case a.Name == reloadAction:
			return nil, &lferrors.ConfigError{Key: "actions", Reason: "\"reload\" is reserved"}
		}
		if _, dup := r.byName[a.Name]; dup {
			return nil, &lferrors.ConfigError{Key: "actions", Reason: fmt.Sprintf("action %q is already registered", a.Name)}
		}
		if err := checkParams(a); err != nil {
			return nil, err
		}
		r.add(a)
	}
	return r, nil
}

func (r *registry) add(a Action) {
	a.Params = slices.Clone(a.Params)
	r.order = append(r.order, a.Name)
	r.byName[a.Name] = a
}

func checkParams(a Action) error {
	seen := make(map[string]bool, len(a.Params))
	for _, p := range a.Params {
		if p.Name == "" || seen[p.Name] {
			return &lferrors.ConfigError{Key: "actions", Reason: fmt.Sprintf("action %q has an empty or duplicate parameter name", a.Name)}
		}
		seen[p.Name] = true
		if p.Default != nil {
			if _, err := coerce(p, p.Default); err != nil {
				return &lferrors.ConfigError{Key: "actions", Reason: fmt.Sprintf("action %q: default for %q", a.Name, p.Name), Cause: err}
			}
		}
	}
	return nil
}

// Actions returns the registered actions: start, stop, restart and status
// first, then custom actions in registration order.
func (d *Daemon) Actions() []Action {
	out := make([]Action, 0, len(d.registry.order))
	for _, name := range d.registry.order {
		a := d.registry.byName[name]
		a.Params = slices.Clone(a.Params)
		out = append(out, a)
	}
	return out
}

// Action looks up a registered action by name.
func (d *Daemon) Action(name string) (Action, error) {
	a, ok := d.registry.byName[NormalizeName(name)]
	if !ok {
		return Action{}, &lferrors.DaemonError{
			Kind:    lferrors.KindInvalidAction,
			Message: fmt.Sprintf("invalid action %q", name),
		}
	}
	return a, nil
}

// DoAction runs the named action. In a process re-executed as a daemon
// stage it instead continues that stage, whatever the name, and does not
// return. "reload" is accepted only inside the running worker.
func (d *Daemon) DoAction(ctx context.Context, name string, params Params) error {
	if d.staged {
		return d.resume(ctx)
	}

	if NormalizeName(name) == reloadAction {
		return d.mw.Handler(ctx, &lflog.ActionRequest{Action: reloadAction}, func() error {
			return d.Reload(ctx)
		})
	}

	a, err := d.Action(name)
	if err != nil {
		return err
	}
	bound, err := bindParams(a, params)
	if err != nil {
		return err
	}
	return d.mw.Handler(ctx, &lflog.ActionRequest{Action: a.Name, Params: bound}, func() error {
		return a.Handler(ctx, d, bound)
	})
}

// bindParams checks supplied values against the action's parameters,
// fills defaults and coerces types. Unknown names and missing required
// parameters are rejected.
func bindParams(a Action, in Params) (Params, error) {
	out := make(Params, len(a.Params))
	for name := range in {
		if !slices.ContainsFunc(a.Params, func(p Param) bool { return p.Name == name }) {
			return nil, &lferrors.DaemonError{
				Kind:    lferrors.KindInvalidParameter,
				Op:      a.Name,
				Message: fmt.Sprintf("unknown parameter %q", name),
			}
		}
	}

	for _, p := range a.Params {
		v, ok := in[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, &lferrors.DaemonError{
					Kind:    lferrors.KindMissingParameter,
					Op:      a.Name,
					Message: fmt.Sprintf("missing required parameter %q", p.Name),
				}
			}
			if p.Default == nil {
				continue
			}
			v = p.Default
		}
		cv, err := coerce(p, v)
		if err != nil {
			return nil, &lferrors.DaemonError{Kind: lferrors.KindInvalidParameter, Op: a.Name, Message: err.Error()}
		}
		out[p.Name] = cv
	}
	return out, nil
}

// coerce converts v to p's kind. Strings are parsed; an int duration is
// taken as seconds; a string list may be given comma-separated.
func coerce(p Param, v any) (any, error) {
	bad := func() error {
		return fmt.Errorf("parameter %q: cannot use %v (%T) as %s", p.Name, v, v, p.Kind)
	}

	switch p.Kind {
	case ParamBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, bad()
			}
			return b, nil
		}
	case ParamInt:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if x == float64(int(x)) {
				return int(x), nil
			}
		case string:
			n, err := strconv.Atoi(x)
			if err != nil {
				return nil, bad()
			}
			return n, nil
		}
	case ParamDuration:
		switch x := v.(type) {
		case time.Duration:
			return x, nil
		case int:
			return time.Duration(x) * time.Second, nil
		case float64:
			return time.Duration(x * float64(time.Second)), nil
		case string:
			if n, err := strconv.Atoi(x); err == nil {
				return time.Duration(n) * time.Second, nil
			}
			dur, err := time.ParseDuration(x)
			if err != nil {
				return nil, bad()
			}
			return dur, nil
		}
	case ParamString:
		if x, ok := v.(string); ok {
			return x, nil
		}
	case ParamStrings:
		switch x := v.(type) {
		case []string:
			return splitList(x), nil
		case string:
			return splitList([]string{x}), nil
		}
	}
	return nil, bad()
}

// splitList flattens comma-separated entries and drops empty ones.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
