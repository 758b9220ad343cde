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

// Command lifeline-example is a small daemon built on lifeline. Its worker
// logs a heartbeat and can serve Prometheus metrics about itself.
//
//	lifeline-example start
//	lifeline-example status --json
//	lifeline-example refresh
//	lifeline-example stop
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tombee/lifeline/internal/commands/shared"
	"github.com/tombee/lifeline/internal/config"
	lflog "github.com/tombee/lifeline/internal/log"
	"github.com/tombee/lifeline/pkg/cli"
	"github.com/tombee/lifeline/pkg/daemon"
	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const heartbeatEvery = 10 * time.Second

func main() {
	cli.SetVersion(version, commit, buildDate)
	cli.Execute(build)
}

func build(g cli.Globals) (*daemon.Daemon, error) {
	prog := cli.ProgName()

	file, err := config.Load(g.ConfigPath, prog)
	if err != nil {
		return nil, err
	}

	logCfg := file.LoggerConfig()
	if g.Verbose {
		logCfg.Level = "debug"
	}
	logger := lflog.New(logCfg)
	slog.SetDefault(logger)

	cfg := daemon.DefaultConfig()
	cfg.Prog = prog
	cfg.PIDFile = defaultPIDFile(prog)
	cfg.Logger = logger
	cfg.Reporter = shared.NewReporter(os.Stdout, os.Stderr)
	if err := file.ApplyTo(&cfg); err != nil {
		return nil, err
	}

	hb := &heartbeat{
		every:       heartbeatEvery,
		metricsAddr: file.Metrics.Listen,
	}
	cfg.Worker = hb.Run
	cfg.Shutdown = daemon.ShutdownFunc(func(reason string, code int) {
		slog.Info("heartbeat stopped", "reason", reason, "exit_code", code, "beats", hb.beats.Load())
	})
	cfg.Actions = []daemon.Action{refreshAction()}

	d, err := daemon.New(cfg)
	if err != nil {
		return nil, err
	}
	hb.d = d
	return d, nil
}

// defaultPIDFile is $XDG_RUNTIME_DIR/<prog>/<prog>.pid, falling back to the
// temp directory with the uid in the name.
func defaultPIDFile(prog string) string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, prog, prog+".pid")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d.pid", prog, os.Getuid()))
}

// refreshAction sends the reload signal to the running daemon.
func refreshAction() daemon.Action {
	return daemon.Action{
		Name: "refresh",
		Help: "Ask the running daemon to reload",
		Handler: func(ctx context.Context, d *daemon.Daemon, _ daemon.Params) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			st, err := d.Status(ctx)
			if err != nil {
				return err
			}
			sig := d.Config().ReloadSignal
			if err := syscall.Kill(st.PID, sig); err != nil {
				return lferrors.Wrapf(err, "unable to signal %s (PID %d)", d.Prog(), st.PID)
			}
			fmt.Printf("Sent %s to %s (PID %d)\n", lferrors.SignalName(sig), d.Prog(), st.PID)
			return nil
		},
	}
}
