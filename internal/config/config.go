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

// Package config loads daemon definition files.
//
// A definition is a YAML document describing how a daemon is run: where its
// PID file lives, which user it runs as, how long stop waits, and so on.
// Values are layered: built-in defaults, then the file, then environment
// variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lflog "github.com/tombee/lifeline/internal/log"
	"github.com/tombee/lifeline/pkg/daemon"
	lferrors "github.com/tombee/lifeline/pkg/errors"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvPIDFile     = "LIFELINE_PID_FILE"
	EnvWorkDir     = "LIFELINE_WORK_DIR"
	EnvStopTimeout = "LIFELINE_STOP_TIMEOUT"
)

// File is a daemon definition.
type File struct {
	Prog       string `yaml:"prog,omitempty"`
	PIDFile    string `yaml:"pid_file,omitempty"`
	WorkDir    string `yaml:"work_dir,omitempty"`
	ChrootDir  string `yaml:"chroot_dir,omitempty"`
	StdoutFile string `yaml:"stdout_file,omitempty"`
	StderrFile string `yaml:"stderr_file,omitempty"`

	// User and Group are names or numeric IDs. A user without a group runs
	// with the user's primary group.
	User  string `yaml:"user,omitempty"`
	Group string `yaml:"group,omitempty"`

	// Umask is an octal string such as "022".
	Umask string `yaml:"umask,omitempty"`

	CloseOpenFiles bool `yaml:"close_open_files,omitempty"`

	// Detach is a pointer so an absent key keeps the default.
	Detach *bool `yaml:"detach,omitempty"`

	StopTimeout   time.Duration `yaml:"stop_timeout,omitempty"`
	KillTimeout   time.Duration `yaml:"kill_timeout,omitempty"`
	ProbeInterval time.Duration `yaml:"probe_interval,omitempty"`

	LifecycleLog string   `yaml:"lifecycle_log,omitempty"`
	ProcTitle    bool     `yaml:"proc_title,omitempty"`
	Watch        []string `yaml:"watch,omitempty"`

	// ReloadSignal is a signal name such as "HUP" or "SIGUSR1".
	ReloadSignal string `yaml:"reload_signal,omitempty"`

	Log     LogConfig     `yaml:"log,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	// Path is the file the definition was read from, if any.
	Path string `yaml:"-"`
}

// LogConfig configures the daemon's structured logger.
type LogConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `yaml:"level,omitempty"`

	// Format is text or json.
	Format string `yaml:"format,omitempty"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	// Listen is a host:port for /metrics. Empty disables the endpoint.
	Listen string `yaml:"listen,omitempty"`
}

// Default returns a definition with the built-in defaults.
func Default() *File {
	return &File{
		Umask: "022",
		Log: LogConfig{
			Level:  "info",
			Format: string(lflog.FormatText),
		},
	}
}

// Load reads the definition at path and applies environment overrides. An
// empty path means the XDG default for prog, which may be absent; an
// explicit path must exist.
func Load(path, prog string) (*File, error) {
	f := Default()

	explicit := path != ""
	if !explicit {
		def, err := ConfigPath(prog)
		if err != nil {
			return nil, &lferrors.ConfigError{Key: "config_file", Reason: "cannot locate config directory", Cause: err}
		}
		path = def
	}

	err := f.loadFromFile(path)
	switch {
	case err == nil:
		f.Path = path
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, &lferrors.ConfigError{
			Key:    "config_file",
			Reason: fmt.Sprintf("failed to load from %s", path),
			Cause:  err,
		}
	}

	if err := f.loadFromEnv(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := f.decode(bytes.NewReader(data)); err != nil {
		return err
	}
	return f.resolvePaths(filepath.Dir(path))
}

// decode parses YAML into f, rejecting unknown keys. An empty document
// leaves f unchanged.
func (f *File) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// resolvePaths expands ~ and makes paths relative to the definition file's
// directory. Paths of a chrooted daemon are left alone: they name locations
// inside the jail.
func (f *File) resolvePaths(dir string) error {
	paths := []*string{&f.ChrootDir, &f.PIDFile, &f.WorkDir, &f.StdoutFile, &f.StderrFile, &f.LifecycleLog}
	for i := range f.Watch {
		paths = append(paths, &f.Watch[i])
	}
	for i, p := range paths {
		if *p == "" || (i > 0 && f.ChrootDir != "") {
			continue
		}
		expanded, err := expandHome(*p)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(dir, expanded)
		}
		*p = expanded
	}
	return nil
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, p[2:]), nil
}

func (f *File) loadFromEnv() error {
	if val := os.Getenv(EnvPIDFile); val != "" {
		f.PIDFile = val
	}
	if val := os.Getenv(EnvWorkDir); val != "" {
		f.WorkDir = val
	}
	if val := os.Getenv(EnvStopTimeout); val != "" {
		d, err := parseSeconds(val)
		if err != nil {
			return &lferrors.ConfigError{Key: EnvStopTimeout, Reason: fmt.Sprintf("invalid duration %q", val), Cause: err}
		}
		f.StopTimeout = d
	}
	return nil
}

// parseSeconds accepts a Go duration or a bare number of seconds.
func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// Validate checks values that can be checked without touching the system.
func (f *File) Validate() error {
	if _, err := f.umask(); err != nil {
		return err
	}
	for key, d := range map[string]time.Duration{
		"stop_timeout":   f.StopTimeout,
		"kill_timeout":   f.KillTimeout,
		"probe_interval": f.ProbeInterval,
	} {
		if d < 0 {
			return &lferrors.ConfigError{Key: key, Reason: fmt.Sprintf("must not be negative, got %s", d)}
		}
	}
	if f.ReloadSignal != "" && unix.SignalNum(signalName(f.ReloadSignal)) == 0 {
		return &lferrors.ConfigError{Key: "reload_signal", Reason: fmt.Sprintf("unknown signal %q", f.ReloadSignal)}
	}

	switch strings.ToLower(f.Log.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return &lferrors.ConfigError{Key: "log.level", Reason: fmt.Sprintf("invalid log level %q (must be trace, debug, info, warn, or error)", f.Log.Level)}
	}
	switch lflog.Format(strings.ToLower(f.Log.Format)) {
	case "", lflog.FormatText, lflog.FormatJSON:
	default:
		return &lferrors.ConfigError{Key: "log.format", Reason: fmt.Sprintf("invalid log format %q (must be text or json)", f.Log.Format)}
	}
	return nil
}

func (f *File) umask() (int, error) {
	if f.Umask == "" {
		return 0o022, nil
	}
	v, err := strconv.ParseUint(f.Umask, 8, 32)
	if err != nil || v > 0o777 {
		return 0, &lferrors.ConfigError{Key: "umask", Reason: fmt.Sprintf("%q is not an octal mode mask", f.Umask), Cause: err}
	}
	return int(v), nil
}

// signalName normalises "hup", "HUP" and "SIGHUP" to "SIGHUP".
func signalName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "SIG") {
		s = "SIG" + s
	}
	return s
}

// ApplyTo copies the definition's values onto cfg, leaving fields the file
// does not set untouched. User and group names are resolved here.
func (f *File) ApplyTo(cfg *daemon.Config) error {
	setString(&cfg.Prog, f.Prog)
	setString(&cfg.PIDFile, f.PIDFile)
	setString(&cfg.WorkDir, f.WorkDir)
	setString(&cfg.ChrootDir, f.ChrootDir)
	setString(&cfg.StdoutFile, f.StdoutFile)
	setString(&cfg.StderrFile, f.StderrFile)
	setString(&cfg.LifecycleLog, f.LifecycleLog)

	umask, err := f.umask()
	if err != nil {
		return err
	}
	cfg.Umask = umask

	if f.Detach != nil {
		cfg.Detach = *f.Detach
	}
	cfg.CloseOpenFiles = cfg.CloseOpenFiles || f.CloseOpenFiles
	cfg.ProcTitle = cfg.ProcTitle || f.ProcTitle

	if f.StopTimeout > 0 {
		cfg.StopTimeout = f.StopTimeout
	}
	if f.KillTimeout > 0 {
		cfg.KillTimeout = f.KillTimeout
	}
	if f.ProbeInterval > 0 {
		cfg.ProbeInterval = f.ProbeInterval
	}
	if len(f.Watch) > 0 {
		cfg.WatchPaths = append(cfg.WatchPaths, f.Watch...)
	}
	if f.ReloadSignal != "" {
		cfg.ReloadSignal = unix.SignalNum(signalName(f.ReloadSignal))
	}

	uid, gid, err := resolveIDs(f.User, f.Group)
	if err != nil {
		return err
	}
	if uid != nil {
		cfg.UID = uid
	}
	if gid != nil {
		cfg.GID = gid
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoggerConfig returns the logging configuration, layered over env.
func (f *File) LoggerConfig() *lflog.Config {
	cfg := lflog.FromEnv()
	if f.Log.Level != "" && os.Getenv("LIFELINE_LOG_LEVEL") == "" && os.Getenv("LIFELINE_DEBUG") == "" {
		cfg.Level = strings.ToLower(f.Log.Level)
	}
	if f.Log.Format != "" && os.Getenv("LOG_FORMAT") == "" {
		cfg.Format = lflog.Format(strings.ToLower(f.Log.Format))
	}
	return cfg
}
