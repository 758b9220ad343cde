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

// Package stage carries state between the re-executed processes that make up
// daemonization: an environment marker naming the stage a process should
// resume at, and a one-message report protocol over an inherited pipe.
package stage

import (
	"encoding/json"
	"fmt"
	"os"
)

// EnvKey is the environment variable holding the JSON-encoded Marker.
const EnvKey = "LIFELINE_STAGE"

// Kind identifies a daemonization stage.
type Kind int

const (
	// Caller is the process the operator invoked. It is never marked.
	Caller Kind = iota
	// Intermediate is the session leader that spawns and probes the worker.
	Intermediate
	// Worker is the final detached process that runs the routine.
	Worker
)

func (k Kind) String() string {
	switch k {
	case Caller:
		return "caller"
	case Intermediate:
		return "intermediate"
	case Worker:
		return "worker"
	default:
		return fmt.Sprintf("stage(%d)", int(k))
	}
}

// Marker tells a re-executed process which stage to resume.
type Marker struct {
	Stage Kind `json:"stage"`

	// AttemptID correlates every process of one start or reload.
	AttemptID string `json:"attempt_id,omitempty"`

	// Attached is set when the worker runs without detaching.
	Attached bool `json:"attached,omitempty"`

	// ReloadFrom is the PID of the worker being replaced. When set, the
	// probing side writes the PID file instead of the worker.
	ReloadFrom int `json:"reload_from,omitempty"`
}

// IsReload reports whether the marker belongs to a reload handoff.
func (m Marker) IsReload() bool {
	return m.ReloadFrom > 0
}

// Env returns the KEY=VALUE entry to append to a child's environment.
func (m Marker) Env() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding stage marker: %w", err)
	}
	return EnvKey + "=" + string(data), nil
}

// Parse decodes a marker value.
func Parse(value string) (Marker, error) {
	var m Marker
	if err := json.Unmarshal([]byte(value), &m); err != nil {
		return Marker{}, fmt.Errorf("decoding stage marker: %w", err)
	}
	if m.Stage != Intermediate && m.Stage != Worker {
		return Marker{}, fmt.Errorf("decoding stage marker: unexpected stage %v", m.Stage)
	}
	return m, nil
}

// Consume reads the marker from the environment and unsets it so the
// worker's own children never inherit it. ok is false for an unmarked
// process.
func Consume() (m Marker, ok bool, err error) {
	value, present := os.LookupEnv(EnvKey)
	if !present {
		return Marker{}, false, nil
	}
	if err := os.Unsetenv(EnvKey); err != nil {
		return Marker{}, false, fmt.Errorf("unsetting %s: %w", EnvKey, err)
	}
	m, err = Parse(value)
	if err != nil {
		return Marker{}, false, err
	}
	return m, true, nil
}

// StripEnv returns env without any stage marker entry.
func StripEnv(env []string) []string {
	out := make([]string, 0, len(env))
	prefix := EnvKey + "="
	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			continue
		}
		out = append(out, kv)
	}
	return out
}
