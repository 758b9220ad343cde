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
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/tombee/lifeline/pkg/daemon"
	"golang.org/x/term"
)

// CLI style colors using lipgloss
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// Muted styles secondary/less important text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Bold styles emphasized text
	Bold = lipgloss.NewStyle().Bold(true)
)

// RenderOK renders a success word in green
func RenderOK(msg string) string {
	return StatusOK.Render(msg)
}

// RenderWarn renders a warning in orange
func RenderWarn(msg string) string {
	return StatusWarn.Render(msg)
}

// RenderError renders an error in red
func RenderError(msg string) string {
	return StatusError.Render(msg)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewReporter returns a styled reporter when out is a terminal and NO_COLOR
// is unset, and the plain daemon.TextReporter otherwise.
func NewReporter(out, errOut io.Writer) daemon.Reporter {
	if os.Getenv("NO_COLOR") == "" && IsTerminal(out) {
		return &StyledReporter{Out: out, Err: errOut}
	}
	return &daemon.TextReporter{Out: out, Err: errOut}
}

// StyledReporter is a daemon.Reporter with colored OK, FAILED and WARNING
// markers. Lines have the same shape as daemon.TextReporter output.
type StyledReporter struct {
	Out io.Writer
	Err io.Writer

	mu      sync.Mutex
	pending bool
}

// Progress implements daemon.Reporter.
func (r *StyledReporter) Progress(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.Out, msg)
	r.pending = true
}

// OK implements daemon.Reporter.
func (r *StyledReporter) OK() {
	r.finish(RenderOK("OK"))
}

// Failed implements daemon.Reporter.
func (r *StyledReporter) Failed() {
	r.finish(RenderError("FAILED"))
}

func (r *StyledReporter) finish(word string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return
	}
	fmt.Fprintln(r.Out, word)
	r.pending = false
}

// Warn implements daemon.Reporter.
func (r *StyledReporter) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	fmt.Fprintf(r.Err, "%s %s\n", RenderWarn("WARNING:"), msg)
}

// Info implements daemon.Reporter.
func (r *StyledReporter) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	fmt.Fprintln(r.Out, msg)
}

func (r *StyledReporter) breakLine() {
	if r.pending {
		fmt.Fprintln(r.Out)
		r.pending = false
	}
}
