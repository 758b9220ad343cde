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

/*
Package cli turns a daemon's action registry into a command-line program.

Every registered action becomes a subcommand, and every action parameter
becomes a flag on it:

	myapp
	├── start     Start the daemon            (--debug/-d)
	├── stop      Stop the daemon             (--timeout/-t, --force/-f)
	├── restart   Stop then start the daemon  (--debug, --timeout, --force)
	├── status    Get the status of the daemon (--json/-j, --fields/-F)
	├── <custom>  Custom actions in registration order
	├── version   Show version
	└── help      Show help (--json for machine-readable output)

Global flags --config/-c and --verbose/-v are known before the daemon is
built, so a Builder can load the definition file they name:

	func main() {
		cli.Execute(func(g cli.Globals) (*daemon.Daemon, error) {
			cfg := daemon.DefaultConfig()
			cfg.Worker = run
			return daemon.New(cfg)
		})
	}

Errors are printed as "Error: ..." with an optional suggestion, and the
process exits with the status the error maps to in pkg/errors.
*/
package cli
