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
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")
)

// ProcessInfo describes a process found through a PID file.
type ProcessInfo struct {
	PID     int
	Running bool

	// Executable is argv[0] as the process was started.
	Executable string

	// Command is the full command line, space separated.
	Command string
}

// IsProcessRunning checks if a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs the existence and permission check only
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// IsNamed reports whether the process was started as one of names.
// Base names of argv[0] and each name are compared, so bundle paths match
// bare names but a process that only mentions a name in its arguments does not.
// Guards against signalling an unrelated process that reused a stale PID.
func (p *ProcessInfo) IsNamed(names ...string) bool {
	if !p.Running || p.Executable == "" {
		return false
	}
	return matchesName(p.Executable, names)
}

func matchesName(executable string, names []string) bool {
	base := filepath.Base(executable)
	for _, name := range names {
		if name != "" && base == filepath.Base(name) {
			return true
		}
	}
	return false
}

// KillGroup sends SIGKILL to every process in the group led by pid.
func KillGroup(pid int) error {
	if pid <= 1 {
		return fmt.Errorf("refusing to kill process group %d", pid)
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("process group %d: %w", pid, ErrProcessNotRunning)
		}
		return fmt.Errorf("failed to kill process group %d: %w", pid, err)
	}
	return nil
}

// GetProcessInfo returns information about the process with the given PID.
// Executable and Command are empty when the process is gone or unreadable.
func GetProcessInfo(pid int) *ProcessInfo {
	info := &ProcessInfo{
		PID:     pid,
		Running: IsProcessRunning(pid),
	}
	if !info.Running {
		return info
	}

	if exe, err := getProcessExecutable(pid); err == nil {
		info.Executable = exe
	}
	if cmd, err := getProcessCommand(pid); err == nil {
		info.Command = cmd
	}
	return info
}
