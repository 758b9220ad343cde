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

// Package daemon turns a long-running Worker into a Unix daemon with a
// verified lifecycle: start, stop, restart, status and reload.
//
// A program builds its Daemon first thing in main and hands control to
// DoAction:
//
//	cfg := daemon.DefaultConfig()
//	cfg.Prog = "myapp"
//	cfg.PIDFile = "/var/run/myapp.pid"
//	cfg.Worker = run
//	d, err := daemon.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := d.DoAction(ctx, os.Args[1], nil); err != nil {
//		os.Exit(errors.ExitCode(err))
//	}
//
// # Detaching
//
// The Go runtime cannot fork without exec, so each fork of the classic
// double-fork recipe is a re-execution of the same binary with the same
// arguments. A marker in the environment tells New which stage the process
// is; DoAction then continues that stage instead of dispatching an action.
//
//   - The caller takes the control lock, refuses to start over a live PID,
//     starts the intermediate in a new session and waits for one report on
//     a pipe.
//   - The intermediate starts the worker, waits for its setup report, gives
//     it ProbeInterval to die, and reports ready, died-early or the setup
//     error.
//   - The worker applies umask, directories, chroot, working directory,
//     group and user, redirects its standard streams, closes the
//     descriptors recorded by New, writes the PID file, reports ready and
//     runs the Worker.
//
// The caller therefore learns whether the worker survived its first moments
// and exits with a specific status when it did not.
//
// # Shutdown
//
// SIGINT, SIGQUIT and SIGTERM cancel the Worker's context. When the Worker
// returns, the ShutdownHandler is called once with a reason and exit code,
// the PID file is removed if it still names this process, and the process
// exits. A second stop signal exits without waiting for the Worker.
//
// # Reload
//
// Reload, the reload signal and changes to WatchPaths start a replacement
// worker through the same stages. The replacement's PID is recorded only
// after it passes the liveness probe, and only then is the current worker
// retired. A failed reload leaves the current worker running.
package daemon
