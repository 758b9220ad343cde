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

package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tombee/lifeline/internal/commands/shared"
	"github.com/tombee/lifeline/pkg/daemon"
	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// Globals are the flags shared by every subcommand.
type Globals struct {
	// ConfigPath is the --config value, or "".
	ConfigPath string

	// Verbose enables debug logging.
	Verbose bool
}

// Builder constructs the daemon once global flags are known.
type Builder func(g Globals) (*daemon.Daemon, error)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}

// ParseGlobals extracts the global flags from args, ignoring everything
// else. Subcommand parsing reports any real flag errors later.
func ParseGlobals(args []string) Globals {
	var g Globals
	fs := pflag.NewFlagSet("globals", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)
	addGlobalFlags(fs, &g.ConfigPath, &g.Verbose)
	_ = fs.Parse(args)
	return g
}

func addGlobalFlags(fs *pflag.FlagSet, config *string, verbose *bool) {
	fs.StringVarP(config, "config", "c", "", "Path to the daemon definition file (default: $XDG_CONFIG_HOME/<prog>/daemon.yaml)")
	fs.BoolVarP(verbose, "verbose", "v", false, "Enable debug logging")
}

// NewRootCommand creates the command tree for d.
func NewRootCommand(d *daemon.Daemon) *cobra.Command {
	cmd := &cobra.Command{
		Use:   d.Prog(),
		Short: "Control the " + d.Prog() + " daemon",
		Long: `Control the ` + d.Prog() + ` daemon.

Run '` + d.Prog() + ` start' to launch it in the background, and
'` + d.Prog() + ` status' to see whether it is running.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				_, err := d.Action(args[0])
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &lferrors.DaemonError{Kind: lferrors.KindInvalidParameter, Op: c.Name(), Message: err.Error()}
	})

	config, verbose := shared.RegisterFlagPointers()
	addGlobalFlags(cmd.PersistentFlags(), config, verbose)

	for _, a := range d.Actions() {
		cmd.AddCommand(newActionCommand(d, a))
	}
	cmd.AddCommand(newVersionCommand())
	cmd.SetHelpCommand(NewHelpCommand(cmd))
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			v, c, b := shared.GetVersion()
			cmd.Printf("%s %s (commit %s, built %s)\n", cmd.Root().Name(), v, c, b)
		},
	}
}

// Run builds the daemon and executes the command line args against it,
// returning the exit status. Interrupts cancel the action's context.
func Run(ctx context.Context, build Builder, args []string) int {
	d, err := build(ParseGlobals(args))
	if err != nil {
		return shared.ReportError(os.Stderr, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(d)
	root.SetArgs(args)
	return shared.ReportError(root.ErrOrStderr(), root.ExecuteContext(ctx))
}

// Execute runs the program with os.Args and exits.
func Execute(build Builder) {
	os.Exit(Run(context.Background(), build, os.Args[1:]))
}

// ProgName returns the base name of the running program.
func ProgName() string {
	return filepath.Base(os.Args[0])
}
