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
	"errors"
	"fmt"
	"io"
	"os"

	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// ReportError prints err for the operator and returns the exit status it
// maps to. Errors that were already shown, such as a status line reading
// "not running", only contribute their exit status.
func ReportError(w io.Writer, err error) int {
	if err == nil {
		return lferrors.ExitSuccess
	}
	code := lferrors.ExitCode(err)

	var uv lferrors.UserVisibleError
	if errors.As(err, &uv) {
		if !uv.IsUserVisible() {
			return code
		}
		fmt.Fprintln(w, RenderError("Error: "+uv.UserMessage()))
		printSuggestion(w, uv)
		return code
	}

	fmt.Fprintln(w, RenderError("Error: "+err.Error()))
	return code
}

// HandleExitError reports err on stderr and exits with its status. It
// returns only when err is nil.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(ReportError(os.Stderr, err))
}

func printSuggestion(w io.Writer, uv lferrors.UserVisibleError) {
	if s := uv.Suggestion(); s != "" {
		fmt.Fprintf(w, "\n%s %s\n", Muted.Render("Suggestion:"), s)
	}
}
