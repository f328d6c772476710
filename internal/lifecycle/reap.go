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
	"os"

	"golang.org/x/sys/unix"
)

// ReapStale cleans up after a previous shell that died without killing its worker.
//
// If the PID file is locked, its owner is alive and ErrPIDFileLocked is returned.
// Otherwise the recorded PID is killed (process group) when it is still running
// and its argv[0] matches one of names, and the file is removed.
// Returns the process that was killed, or nil.
func ReapStale(pf *PIDFile, names ...string) (*ProcessInfo, error) {
	file, err := os.OpenFile(pf.Path(), os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open PID file: %w", err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrPIDFileLocked
		}
		return nil, fmt.Errorf("failed to lock PID file: %w", err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	var killed *ProcessInfo
	if pid, err := pf.Read(); err == nil {
		info := GetProcessInfo(pid)
		if info.IsNamed(names...) {
			if err := KillGroup(pid); err != nil && !errors.Is(err, ErrProcessNotRunning) {
				return nil, fmt.Errorf("failed to reap stale worker %d: %w", pid, err)
			}
			killed = info
		}
	}

	if err := os.Remove(pf.Path()); err != nil && !os.IsNotExist(err) {
		return killed, fmt.Errorf("failed to remove stale PID file: %w", err)
	}
	return killed, nil
}
