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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// ReportFD is the descriptor number of the report pipe in a re-executed
// stage.
const ReportFD = 3

// ErrNoReport is returned by ReadReport when the writer closed the pipe
// without sending anything, which means the writer died.
var ErrNoReport = errors.New("stage exited without reporting")

// Outcome is the result a stage reports to its parent.
type Outcome string

const (
	// OutcomeReady means the worker is set up and alive.
	OutcomeReady Outcome = "ready"
	// OutcomeError means setup failed before the worker ran.
	OutcomeError Outcome = "error"
	// OutcomeDiedEarly means the worker exited inside the probe window.
	OutcomeDiedEarly Outcome = "died_early"
)

// Report is the single JSON message written to the report pipe.
type Report struct {
	Outcome  Outcome `json:"outcome"`
	PID      int     `json:"pid,omitempty"`
	Kind     string  `json:"kind,omitempty"`
	Message  string  `json:"message,omitempty"`
	ExitCode int     `json:"exit_code,omitempty"`
	Signal   int     `json:"signal,omitempty"`
}

// Ready builds a successful report for pid.
func Ready(pid int) Report {
	return Report{Outcome: OutcomeReady, PID: pid}
}

// DiedEarly builds the report for a worker that exited during the probe.
func DiedEarly(pid int, ws syscall.WaitStatus) Report {
	r := Report{Outcome: OutcomeDiedEarly, PID: pid}
	if ws.Signaled() {
		r.Signal = int(ws.Signal())
	} else {
		r.ExitCode = ws.ExitStatus()
	}
	return r
}

// FromError builds an error report, keeping the kind of a *DaemonError.
// The operation prefix is dropped; the receiving side sets its own.
func FromError(err error) Report {
	r := Report{Outcome: OutcomeError, Message: err.Error(), Kind: lferrors.KindStartFailed.String()}
	var de *lferrors.DaemonError
	if errors.As(err, &de) {
		bare := *de
		bare.Op = ""
		r.Message = bare.Error()
		r.Kind = de.Kind.String()
		r.PID = de.PID
	}
	return r
}

// Err converts a non-ready report back into an error. It returns nil for
// OutcomeReady.
func (r Report) Err() error {
	switch r.Outcome {
	case OutcomeReady:
		return nil
	case OutcomeDiedEarly:
		return &lferrors.DaemonError{
			Kind:     lferrors.KindDiedEarly,
			PID:      r.PID,
			ExitCode: r.ExitCode,
			Signal:   syscall.Signal(r.Signal),
		}
	default:
		kind := lferrors.ParseKind(r.Kind)
		if kind == lferrors.KindUnknown {
			kind = lferrors.KindStartFailed
		}
		return &lferrors.DaemonError{Kind: kind, PID: r.PID, Message: r.Message}
	}
}

// WriteReport sends r as one JSON line.
func WriteReport(w io.Writer, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// ReadReport reads one report. ErrNoReport is returned when the pipe
// reaches EOF first.
func ReadReport(r io.Reader) (Report, error) {
	var rep Report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		if errors.Is(err, io.EOF) {
			return Report{}, ErrNoReport
		}
		return Report{}, fmt.Errorf("reading report: %w", err)
	}
	return rep, nil
}

// ReportPipe returns the inherited report pipe of a re-executed stage.
func ReportPipe() *os.File {
	return os.NewFile(uintptr(ReportFD), "stage-report")
}
