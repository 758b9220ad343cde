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
	"fmt"
	"io"
	"os"
	"sync"
)

// Reporter shows lifecycle progress to the operator. Progress starts a line
// such as "Starting prog ... " that OK or Failed completes.
type Reporter interface {
	Progress(msg string)
	OK()
	Failed()
	Warn(msg string)
	Info(msg string)
}

// TextReporter writes plain progress lines. It is the default Reporter.
type TextReporter struct {
	Out io.Writer
	Err io.Writer

	mu      sync.Mutex
	pending bool
}

// NewTextReporter returns a TextReporter on stdout and stderr.
func NewTextReporter() *TextReporter {
	return &TextReporter{Out: os.Stdout, Err: os.Stderr}
}

// Progress implements Reporter.
func (r *TextReporter) Progress(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.Out, msg)
	r.pending = true
}

// OK implements Reporter.
func (r *TextReporter) OK() {
	r.finish("OK")
}

// Failed implements Reporter.
func (r *TextReporter) Failed() {
	r.finish("FAILED")
}

func (r *TextReporter) finish(word string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return
	}
	fmt.Fprintln(r.Out, word)
	r.pending = false
}

// Warn implements Reporter.
func (r *TextReporter) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	fmt.Fprintf(r.Err, "WARNING: %s\n", msg)
}

// Info implements Reporter.
func (r *TextReporter) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	fmt.Fprintln(r.Out, msg)
}

// breakLine ends a dangling progress line so the next message starts on
// its own line.
func (r *TextReporter) breakLine() {
	if r.pending {
		fmt.Fprintln(r.Out)
		r.pending = false
	}
}
