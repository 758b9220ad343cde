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

	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// ExitError is returned by a Worker to exit with a chosen status.
type ExitError struct {
	// Code is the exit status. With a Message and a zero Code the daemon
	// exits with 1.
	Code int

	// Message is an optional human-readable reason.
	Message string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitStatus implements lferrors.ExitCoder.
func (e *ExitError) ExitStatus() int {
	if e.Code == 0 && e.Message != "" {
		return lferrors.ExitFailure
	}
	return e.Code
}

// Exit returns an *ExitError with the given code.
func Exit(code int) error {
	return &ExitError{Code: code}
}

// Exitf returns an *ExitError with status 1 and a formatted message.
func Exitf(format string, args ...any) error {
	return &ExitError{Code: lferrors.ExitFailure, Message: fmt.Sprintf(format, args...)}
}
