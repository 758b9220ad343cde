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

import (
	"errors"
	"fmt"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
//
//	if errors.Is(err, errors.ErrNotRunning) {
//	    // nothing to stop
//	}
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Join wraps errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Newf builds a *DaemonError of the given kind with a formatted message.
func Newf(kind Kind, op string, format string, args ...interface{}) *DaemonError {
	return &DaemonError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapKind wraps cause in a *DaemonError of the given kind. A nil cause
// yields nil.
func WrapKind(cause error, kind Kind, op string, message string) error {
	if cause == nil {
		return nil
	}
	return &DaemonError{Kind: kind, Op: op, Message: message, Cause: cause}
}
