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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/tombee/lifeline/internal/lifecycle"
	"github.com/tombee/lifeline/internal/procstat"
	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// Process states reported by Status.
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

// StatusFields are the selectable status fields, in output order.
var StatusFields = []string{"prog", "pid", "status", "uptime", "cpu", "mem"}

// Status is a point-in-time view of the daemon's process group.
type Status struct {
	Prog  string
	PID   int
	State string

	// Uptime is measured from the start of PID.
	Uptime    time.Duration
	StartedAt time.Time

	// CPU and Mem are percentages summed over Members.
	CPU float64
	Mem float64

	// Members are the PIDs in PID's process group.
	Members []int
}

// Running reports whether the daemon was running when sampled.
func (s *Status) Running() bool {
	return s.State == StateRunning
}

// Status samples the recorded process and every process in its group. A
// daemon that is not running yields a stopped Status together with a
// NotRunning error.
func (d *Daemon) Status(ctx context.Context) (*Status, error) {
	if d.pidfile == nil {
		return nil, lferrors.Newf(lferrors.KindPIDFile, "status", "cannot get status of %s without a PID file", d.cfg.Prog)
	}

	stopped := &Status{Prog: d.cfg.Prog, State: StateStopped}
	notRunning := &lferrors.DaemonError{Kind: lferrors.KindNotRunning, Op: "status", Prog: d.cfg.Prog}

	pid, running, err := d.pidfile.Current()
	if err != nil {
		return nil, lferrors.WrapKind(err, lferrors.KindPIDFile, "status", "unable to read PID file")
	}
	if !running {
		return stopped, notRunning
	}

	sampler, err := procstat.NewSampler()
	if err == nil {
		var sample *procstat.Sample
		sample, err = sampler.Sample(ctx, pid)
		if err == nil {
			return statusFromSample(d.cfg.Prog, sample, time.Now()), nil
		}
	}
	if errors.Is(err, procstat.ErrUnsupported) {
		return &Status{Prog: d.cfg.Prog, PID: pid, State: StateRunning, Members: []int{pid}}, nil
	}
	if !lifecycle.IsProcessRunning(pid) {
		return stopped, notRunning
	}
	return nil, lferrors.WrapKind(err, lferrors.KindUnknown, "status", "unable to sample process")
}

func statusFromSample(prog string, s *procstat.Sample, now time.Time) *Status {
	return &Status{
		Prog:      prog,
		PID:       s.PID,
		State:     StateRunning,
		Uptime:    s.Uptime(now),
		StartedAt: s.StartedAt,
		CPU:       s.CPU,
		Mem:       s.Mem,
		Members:   slices.Clone(s.Members),
	}
}

// FormatUptime renders d as "[Nd ][Nh ]Nm" with minutes rounded. Hours are
// shown whenever the uptime reaches an hour, so "1d 0h 5m" keeps its fixed
// shape.
func FormatUptime(d time.Duration) string {
	mins := int(math.Round(d.Minutes()))
	hours, mins := mins/60, mins%60
	out := fmt.Sprintf("%dm", mins)
	if hours == 0 {
		return out
	}
	days, hours := hours/24, hours%24
	out = fmt.Sprintf("%dh %s", hours, out)
	if days > 0 {
		out = fmt.Sprintf("%dd %s", days, out)
	}
	return out
}

// ValidateFields checks field names against StatusFields.
func ValidateFields(fields []string) error {
	for _, f := range fields {
		if !slices.Contains(StatusFields, f) {
			return &lferrors.DaemonError{
				Kind:    lferrors.KindInvalidParameter,
				Op:      "status",
				Message: fmt.Sprintf("invalid status field %q (valid fields: %s)", f, strings.Join(StatusFields, ", ")),
			}
		}
	}
	return nil
}

func (s *Status) field(name string) any {
	switch name {
	case "prog":
		return s.Prog
	case "pid":
		if !s.Running() {
			return nil
		}
		return s.PID
	case "status":
		return s.State
	case "uptime":
		if !s.Running() {
			return nil
		}
		return FormatUptime(s.Uptime)
	case "cpu":
		return math.Round(s.CPU*10) / 10
	case "mem":
		return math.Round(s.Mem*10) / 10
	}
	return nil
}

// MarshalFields encodes the named fields, in the order given, as a JSON
// object. No fields means all of StatusFields.
func (s *Status) MarshalFields(fields []string) ([]byte, error) {
	if len(fields) == 0 {
		fields = StatusFields
	}
	if err := ValidateFields(fields); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f)
		val, err := json.Marshal(s.field(f))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler with every field.
func (s *Status) MarshalJSON() ([]byte, error) {
	return s.MarshalFields(nil)
}

// Format renders the human-readable status line, for example
// "myapp -- pid: 1234, status: running, uptime: 3m, %cpu: 0.0, %mem: 0.1".
func (s *Status) Format(fields []string) (string, error) {
	if !s.Running() {
		return s.Prog + " -- not running", nil
	}
	if len(fields) == 0 {
		fields = StatusFields
	}
	if err := ValidateFields(fields); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case "prog":
			continue
		case "cpu":
			parts = append(parts, fmt.Sprintf("%%cpu: %.1f", s.CPU))
		case "mem":
			parts = append(parts, fmt.Sprintf("%%mem: %.1f", s.Mem))
		default:
			parts = append(parts, fmt.Sprintf("%s: %v", f, s.field(f)))
		}
	}
	if len(parts) == 0 {
		return s.Prog, nil
	}
	return s.Prog + " -- " + strings.Join(parts, ", "), nil
}
