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
Package lifecycle holds the process-level building blocks of a daemon's
lifecycle: the PID file, liveness probing, signalling, bounded waits, the
control lock, stage spawning and the lifecycle audit log.

# PID File Management

The PID file names the authoritative running instance. Writes are atomic
replacements; stale or corrupt files are healed on read:

	pf := lifecycle.NewPIDFileManager("/run/worker.pid", lifecycle.WithUmask(0o022))
	pid, running, err := pf.Current()
	if err != nil {
	    // Handle error
	}
	if running {
	    // already running as pid
	}

# Process Operations

Liveness is a zero signal plus a zombie check. Stopping never escalates to
SIGKILL unless asked:

	err := lifecycle.GracefulShutdown(ctx, pid, lifecycle.ShutdownOptions{
	    Timeout: 10 * time.Second,
	    Force:   false,
	})
	if errors.Is(err, lifecycle.ErrShutdownTimeout) {
	    // still running
	}

# Control Lock

Concurrent lifecycle commands against the same PID file are serialised:

	lock := lifecycle.NewControlLock(pf.Path())
	if err := lock.Lock(ctx); err != nil {
	    // Handle error
	}
	defer lock.Unlock()

# Lifecycle Logging

Lifecycle events can be appended to a JSON-lines audit log:

	logger := lifecycle.NewLifecycleLogger("/var/log/worker/lifecycle.log", "worker")
	logger.LogStop(pid, false)
*/
package lifecycle
