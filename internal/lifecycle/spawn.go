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
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
)

// Spawner starts worker processes with piped stdout/stderr.
type Spawner struct {
	// Env is the full environment for the child process.
	Env []string

	// Dir is the child's working directory. Empty inherits ours.
	Dir string
}

// NewSpawner creates a spawner that passes the current environment through.
func NewSpawner() *Spawner {
	return &Spawner{
		Env: os.Environ(),
	}
}

// WithEnv appends KEY=VALUE pairs to the child environment.
func (s *Spawner) WithEnv(env map[string]string) *Spawner {
	for k, v := range env {
		s.Env = append(s.Env, k+"="+v)
	}
	return s
}

// WithDir sets the child's working directory.
func (s *Spawner) WithDir(dir string) *Spawner {
	s.Dir = dir
	return s
}

// Process is a running child started by Spawner.Start.
type Process struct {
	cmd *exec.Cmd

	// Stdout and Stderr must be drained before calling Wait.
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	exited   atomic.Bool
	waitOnce sync.Once
	waitErr  error
}

// Start launches binary in a new process group.
// Stdin is connected to the null device.
func (s *Spawner) Start(binary string, args []string) (*Process, error) {
	cmd := exec.Command(binary, args...)
	cmd.Env = s.Env
	cmd.Dir = s.Dir
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		// Own process group so KillGroup reaches forked helpers too
		Setpgid: true,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &Process{
		cmd:    cmd,
		Stdout: stdout,
		Stderr: stderr,
	}, nil
}

// PID returns the OS process identifier.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Kill sends SIGKILL to the process group, falling back to the leader alone.
// Returns os.ErrProcessDone once the process has been reaped.
func (p *Process) Kill() error {
	if p.exited.Load() {
		return os.ErrProcessDone
	}

	groupErr := KillGroup(p.PID())
	if groupErr == nil {
		return nil
	}

	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", p.PID(), errors.Join(groupErr, err))
	}
	return nil
}

// Wait blocks until the process exits and reports its state.
// Safe to call more than once; later calls return the first result.
func (p *Process) Wait() (*os.ProcessState, error) {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		p.exited.Store(true)
	})
	return p.cmd.ProcessState, p.waitErr
}

// ExitStatus decodes a process state into an exit code and terminating signal.
// code is -1 when the process was killed by a signal.
func ExitStatus(state *os.ProcessState) (code int, signal string) {
	if state == nil {
		return -1, ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return state.ExitCode(), ""
}
