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

package config

import (
	"os"
	"path/filepath"
)

// FileName is the daemon definition file looked up in ConfigDir.
const FileName = "daemon.yaml"

// ConfigDir returns the XDG config directory for prog:
// $XDG_CONFIG_HOME/<prog>, or ~/.config/<prog> when the variable is unset.
// macOS uses ~/.config as well.
func ConfigDir(prog string) (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, prog), nil
}

// ConfigPath returns the default definition file for prog.
func ConfigPath(prog string) (string, error) {
	dir, err := ConfigDir(prog)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}
