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
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrPIDFileExists is returned when trying to create a PID file that already exists.
	ErrPIDFileExists = errors.New("PID file already exists")

	// ErrPIDFileLocked is returned when another live shell holds the PID file lock.
	ErrPIDFileLocked = errors.New("PID file is locked by another process")

	// ErrInvalidPID is returned when the PID file contains invalid data.
	ErrInvalidPID = errors.New("invalid PID in file")

	// ErrUnsafeDirectory is returned when the PID file parent is world-writable.
	ErrUnsafeDirectory = errors.New("PID file directory is world-writable")
)

// PIDFile records the worker PID on disk.
// The writer keeps an exclusive flock for as long as the file exists, so a
// reader can tell a live owner from an orphaned file left by a crash.
type PIDFile struct {
	path     string
	lockFile *os.File
}

// NewPIDFile creates a PID file handle for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (f *PIDFile) Path() string {
	return f.path
}

// Write creates the file with O_EXCL, locks it and stores pid.
// The parent directory is created with 0700 if missing.
func (f *PIDFile) Write(pid int) error {
	parentDir := filepath.Dir(f.path)
	if err := verifyDirectorySafety(parentDir); err != nil {
		return fmt.Errorf("unsafe PID file location: %w", err)
	}
	if err := os.MkdirAll(parentDir, 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	// O_EXCL refuses symlinks and concurrent creators; O_RDWR is needed for flock
	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return ErrPIDFileExists
		}
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	fail := func(err error) error {
		file.Close()
		os.Remove(f.path)
		return err
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fail(ErrPIDFileLocked)
		}
		return fail(fmt.Errorf("failed to lock PID file: %w", err))
	}
	if _, err := fmt.Fprintf(file, "%d\n", pid); err != nil {
		return fail(fmt.Errorf("failed to write PID: %w", err))
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync PID file: %w", err))
	}

	f.lockFile = file
	return nil
}

// Read parses the PID stored in the file.
func (f *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, pidStr)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}

	return pid, nil
}

// Remove releases the lock and deletes the file. Missing files are not an error.
func (f *PIDFile) Remove() error {
	if f.lockFile != nil {
		unix.Flock(int(f.lockFile.Fd()), unix.LOCK_UN)
		f.lockFile.Close()
		f.lockFile = nil
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Exists returns true if the PID file exists.
func (f *PIDFile) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// verifyDirectorySafety rejects world-writable directories, where another
// user could plant a symlink at the PID file path.
func verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	mode := info.Mode()
	if mode&0002 != 0 && mode&os.ModeSticky == 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, mode&os.ModePerm)
	}
	return nil
}
