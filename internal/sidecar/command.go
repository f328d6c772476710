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

package sidecar

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/tombee/cortex/internal/config"
	"github.com/tombee/cortex/internal/lifecycle"
)

// Handle is the live, killable worker process.
type Handle interface {
	// PID returns the OS process identifier.
	PID() int
	// Kill sends the one termination signal the worker will ever receive.
	Kill() error
}

// Launcher starts the worker and returns its event stream and handle.
type Launcher interface {
	Spawn(ctx context.Context) (<-chan CommandEvent, Handle, error)
}

// Command launches a bundled sidecar executable.
type Command struct {
	Name       string
	Args       []string
	Env        map[string]string
	Dir        string
	SearchDirs []string
}

// NewCommand builds a Command from configuration.
func NewCommand(cfg config.SidecarConfig) *Command {
	return &Command{
		Name:       cfg.Name,
		Args:       cfg.Args,
		Env:        cfg.Env,
		Dir:        cfg.Dir,
		SearchDirs: cfg.SearchDirs,
	}
}

// Spawn resolves and starts the worker. Failures are returned as *SpawnError.
// The returned channel delivers output lines per stream in emission order and
// closes after the EventTerminated event.
func (c *Command) Spawn(ctx context.Context) (<-chan CommandEvent, Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, &SpawnError{Name: c.Name, Cause: err}
	}

	path, err := Resolve(c.Name, c.SearchDirs)
	if err != nil {
		return nil, nil, &SpawnError{Name: c.Name, Cause: err}
	}

	proc, err := lifecycle.NewSpawner().WithEnv(c.Env).WithDir(c.Dir).Start(path, c.Args)
	if err != nil {
		return nil, nil, &SpawnError{Name: c.Name, Path: path, Cause: err}
	}

	child := &Child{proc: proc, path: path}
	events := make(chan CommandEvent, 64)
	go child.pump(events)

	return events, child, nil
}

// Child is the Handle for a worker started by Command.
type Child struct {
	proc *lifecycle.Process
	path string
}

// PID returns the OS process identifier.
func (c *Child) PID() int {
	return c.proc.PID()
}

// Path returns the resolved executable path.
func (c *Child) Path() string {
	return c.path
}

// Kill hard-kills the worker and its process group.
func (c *Child) Kill() error {
	return c.proc.Kill()
}

// pump feeds both output streams into events, then reaps the process and
// emits EventTerminated before closing the channel.
func (c *Child) pump(events chan<- CommandEvent) {
	var wg sync.WaitGroup
	wg.Add(2)
	go readLines(c.proc.Stdout, EventStdout, events, &wg)
	go readLines(c.proc.Stderr, EventStderr, events, &wg)
	wg.Wait()

	state, err := c.proc.Wait()
	if err != nil && state == nil {
		events <- CommandEvent{Kind: EventError, Message: err.Error()}
	}
	code, signal := lifecycle.ExitStatus(state)
	events <- CommandEvent{Kind: EventTerminated, Code: code, Signal: signal}
	close(events)
}

// readLines sends each newline-terminated chunk of r as one event.
// A trailing partial line is sent when the stream ends.
func readLines(r io.Reader, kind EventKind, events chan<- CommandEvent, wg *sync.WaitGroup) {
	defer wg.Done()

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			events <- CommandEvent{Kind: kind, Line: line}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				events <- CommandEvent{Kind: EventError, Message: kind.String() + ": " + err.Error()}
			}
			return
		}
	}
}
