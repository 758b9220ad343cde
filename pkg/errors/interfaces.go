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

package errors

// UserVisibleError is implemented by errors the CLI prints with a
// friendly message and an optional hint.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	IsUserVisible() bool

	// UserMessage returns the message printed to stderr.
	UserMessage() string

	// Suggestion returns actionable guidance, or "" when there is none.
	Suggestion() string
}

// ErrorClassifier lets callers branch on an error category without type
// switches.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category, e.g.
	// "already_running" or "stop_timeout".
	ErrorType() string

	// IsRetryable returns true if the same operation may succeed when retried.
	IsRetryable() bool
}

// ExitCoder is implemented by errors that carry a process exit status.
type ExitCoder interface {
	error
	ExitStatus() int
}
