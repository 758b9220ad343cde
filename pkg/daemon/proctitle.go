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
	"strings"

	"github.com/erikdubbelboer/gspt"
	"github.com/tombee/lifeline/internal/stage"
)

// setProcTitle labels the current stage in ps output, for example
// "myapp: worker start".
func (d *Daemon) setProcTitle(k stage.Kind) {
	if !d.cfg.ProcTitle {
		return
	}
	gspt.SetProcTitle(procTitle(d.cfg.Prog, k, d.args[1:]))
}

func procTitle(prog string, k stage.Kind, args []string) string {
	title := fmt.Sprintf("%s: %s", prog, k)
	if len(args) > 0 {
		title += " " + strings.Join(args, " ")
	}
	return title
}
