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

package lifecycle

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// deadPID returns the PID of a process that has already been reaped.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sh", "-c", "exit 0")
	if err := cmd.Run(); err != nil {
		t.Skipf("Skipping: cannot run helper process: %v", err)
	}
	return cmd.Process.Pid
}

func TestPIDFileManager_Write(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("writes PID with trailing newline", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "test.pid")
		m := NewPIDFileManager(pidPath, WithUmask(0o022))
		defer m.Remove()

		if err := m.Write(1234); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		data, err := os.ReadFile(pidPath)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if string(data) != "1234\n" {
			t.Errorf("content = %q, want %q", data, "1234\n")
		}

		info, err := os.Stat(pidPath)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0o644 {
			t.Errorf("PID file mode = %04o, want 0644", mode)
		}
	})

	t.Run("honours a stricter umask", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "strict.pid")
		m := NewPIDFileManager(pidPath, WithUmask(0o077))

		if err := m.Write(42); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		info, err := os.Stat(pidPath)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0o600 {
			t.Errorf("PID file mode = %04o, want 0600", mode)
		}
	})

	t.Run("replaces an existing file", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "replace.pid")
		m := NewPIDFileManager(pidPath)

		if err := m.Write(100); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if err := m.Write(200); err != nil {
			t.Fatalf("second Write() error = %v", err)
		}
		pid, err := m.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if pid != 200 {
			t.Errorf("Read() = %d, want 200", pid)
		}

		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if filepath.Ext(e.Name()) != ".pid" {
				t.Errorf("temporary file left behind: %s", e.Name())
			}
		}
	})

	t.Run("creates parent directory if missing", func(t *testing.T) {
		deepPath := filepath.Join(tmpDir, "nested", "dir", "test.pid")
		m := NewPIDFileManager(deepPath, WithUmask(0o022))

		if err := m.Write(1234); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		info, err := os.Stat(filepath.Dir(deepPath))
		if err != nil {
			t.Fatalf("Parent directory not created: %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0o755 {
			t.Errorf("Parent directory mode = %04o, want 0755", mode)
		}
	})

	t.Run("rejects non-positive PID", func(t *testing.T) {
		m := NewPIDFileManager(filepath.Join(tmpDir, "zero.pid"))
		if err := m.Write(0); !errors.Is(err, ErrInvalidPID) {
			t.Errorf("Write(0) error = %v, want ErrInvalidPID", err)
		}
	})

	t.Run("rejects world-writable directory without sticky bit", func(t *testing.T) {
		unsafe := filepath.Join(tmpDir, "unsafe")
		if err := os.Mkdir(unsafe, 0o777); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(unsafe, 0o777); err != nil {
			t.Fatal(err)
		}

		m := NewPIDFileManager(filepath.Join(unsafe, "x.pid"))
		if err := m.Write(1); !errors.Is(err, ErrUnsafeDirectory) {
			t.Errorf("Write() error = %v, want ErrUnsafeDirectory", err)
		}
	})
}

func TestPIDFileManager_Read(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("reads valid PID", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "valid.pid")
		if err := os.WriteFile(pidPath, []byte("9999\n"), 0o600); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}

		pid, err := NewPIDFileManager(pidPath).Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if pid != 9999 {
			t.Errorf("Read() = %d, want 9999", pid)
		}
	})

	t.Run("returns not-exist for missing file", func(t *testing.T) {
		_, err := NewPIDFileManager(filepath.Join(tmpDir, "nonexistent.pid")).Read()
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Read() error = %v, want fs.ErrNotExist", err)
		}
	})

	t.Run("returns error for invalid PID", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
		}{
			{"non-numeric", "not-a-number\n"},
			{"negative", "-123\n"},
			{"zero", "0\n"},
			{"float", "123.45\n"},
			{"empty", ""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				pidPath := filepath.Join(tmpDir, tt.name+".pid")
				if err := os.WriteFile(pidPath, []byte(tt.content), 0o600); err != nil {
					t.Fatalf("Failed to create test file: %v", err)
				}

				_, err := NewPIDFileManager(pidPath).Read()
				if !errors.Is(err, ErrInvalidPID) {
					t.Errorf("Read() error = %v, want ErrInvalidPID", err)
				}
			})
		}
	})
}

func TestPIDFileManager_RoundTrip(t *testing.T) {
	m := NewPIDFileManager(filepath.Join(t.TempDir(), "rt.pid"))

	if err := m.Write(4321); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	pid, err := m.Read()
	if err != nil || pid != 4321 {
		t.Fatalf("Read() = %d, %v; want 4321, nil", pid, err)
	}

	if err := m.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := m.Read(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Read() after Remove() error = %v, want fs.ErrNotExist", err)
	}
	if err := m.Remove(); err != nil {
		t.Errorf("second Remove() error = %v, want nil", err)
	}
}

func TestPIDFileManager_Current(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("missing file is not running", func(t *testing.T) {
		m := NewPIDFileManager(filepath.Join(tmpDir, "missing.pid"))
		pid, running, err := m.Current()
		if err != nil || running || pid != 0 {
			t.Errorf("Current() = %d, %v, %v; want 0, false, nil", pid, running, err)
		}
	})

	t.Run("live PID is running", func(t *testing.T) {
		m := NewPIDFileManager(filepath.Join(tmpDir, "live.pid"))
		if err := m.Write(os.Getpid()); err != nil {
			t.Fatal(err)
		}
		pid, running, err := m.Current()
		if err != nil || !running || pid != os.Getpid() {
			t.Errorf("Current() = %d, %v, %v; want %d, true, nil", pid, running, err, os.Getpid())
		}
	})

	t.Run("stale PID is healed", func(t *testing.T) {
		var healed []int
		m := NewPIDFileManager(filepath.Join(tmpDir, "stale.pid"),
			WithStaleHandler(func(_ string, pid int, _ string) { healed = append(healed, pid) }))
		dead := deadPID(t)
		if err := m.Write(dead); err != nil {
			t.Fatal(err)
		}

		stale, err := m.IsStale()
		if err != nil || !stale {
			t.Fatalf("IsStale() = %v, %v; want true, nil", stale, err)
		}

		_, running, err := m.Current()
		if err != nil || running {
			t.Fatalf("Current() running = %v, err = %v; want false, nil", running, err)
		}
		if pidFileExists(m) {
			t.Error("stale PID file was not removed")
		}
		if len(healed) != 1 || healed[0] != dead {
			t.Errorf("stale handler calls = %v, want [%d]", healed, dead)
		}
	})

	t.Run("corrupt file is healed", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "corrupt.pid")
		if err := os.WriteFile(pidPath, []byte("garbage"), 0o644); err != nil {
			t.Fatal(err)
		}
		var reasons []string
		m := NewPIDFileManager(pidPath,
			WithStaleHandler(func(_ string, _ int, reason string) { reasons = append(reasons, reason) }))

		_, running, err := m.Current()
		if err != nil || running {
			t.Fatalf("Current() running = %v, err = %v", running, err)
		}
		if pidFileExists(m) {
			t.Error("corrupt PID file was not removed")
		}
		if len(reasons) != 1 {
			t.Errorf("stale handler calls = %d, want 1", len(reasons))
		}
	})
}

func TestPIDFileManager_RemoveIfOwned(t *testing.T) {
	m := NewPIDFileManager(filepath.Join(t.TempDir(), "owned.pid"))
	if err := m.Write(500); err != nil {
		t.Fatal(err)
	}

	if err := m.RemoveIfOwned(501); err != nil {
		t.Fatalf("RemoveIfOwned(501) error = %v", err)
	}
	if !pidFileExists(m) {
		t.Fatal("file naming another PID was removed")
	}

	if err := m.RemoveIfOwned(500); err != nil {
		t.Fatalf("RemoveIfOwned(500) error = %v", err)
	}
	if pidFileExists(m) {
		t.Error("file naming the owner was not removed")
	}

	if err := m.RemoveIfOwned(500); err != nil {
		t.Errorf("RemoveIfOwned() on missing file error = %v", err)
	}
}

func pidFileExists(m *PIDFileManager) bool {
	_, err := os.Stat(m.Path())
	return err == nil
}
