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
	"encoding/json"
	"errors"
	"io"

	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// JSONResponse is the base envelope for JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError is a structured error with a code, message and suggestion
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	ExitCode   int    `json:"exit_code"`
	Retryable  bool   `json:"retryable,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// EmitJSON writes v as indented JSON.
func EmitJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// EmitJSONError writes a failure envelope describing err.
func EmitJSONError(w io.Writer, command string, err error) error {
	type errorResponse struct {
		JSONResponse
		Error JSONError `json:"error"`
	}

	return EmitJSON(w, errorResponse{
		JSONResponse: JSONResponse{Version: "1.0", Command: command},
		Error:        NewJSONError(err),
	})
}

// NewJSONError describes err using the error interfaces it implements.
func NewJSONError(err error) JSONError {
	je := JSONError{
		Code:     "unknown",
		Message:  err.Error(),
		ExitCode: lferrors.ExitCode(err),
	}
	var ec lferrors.ErrorClassifier
	if errors.As(err, &ec) {
		je.Code = ec.ErrorType()
		je.Retryable = ec.IsRetryable()
	}
	var ce *lferrors.ConfigError
	if errors.As(err, &ce) {
		je.Code = "config"
	}
	var uv lferrors.UserVisibleError
	if errors.As(err, &uv) {
		je.Message = uv.UserMessage()
		je.Suggestion = uv.Suggestion()
	}
	return je
}
