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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one line of the lifecycle log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"` // "spawn", "kill", "exited", ...
	Sidecar   string    `json:"sidecar,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Path      string    `json:"path,omitempty"`
	Trigger   string    `json:"trigger,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewSessionID returns a fresh identifier for one run of the shell.
func NewSessionID() string {
	return uuid.NewString()
}

// EventLog appends sidecar lifecycle events to a JSON-lines file.
// A nil *EventLog is valid and drops everything.
type EventLog struct {
	mu        sync.Mutex
	logPath   string
	sessionID string
}

// NewEventLog creates an event log writing to logPath.
// An empty path returns nil, which disables logging.
func NewEventLog(logPath, sessionID string) *EventLog {
	if logPath == "" {
		return nil
	}
	return &EventLog{
		logPath:   logPath,
		sessionID: sessionID,
	}
}

// LogSpawn records a successful worker start.
func (l *EventLog) LogSpawn(sidecar string, pid int, path string) error {
	return l.write(Event{
		Event:   "spawn",
		Sidecar: sidecar,
		PID:     pid,
		Path:    path,
		Success: true,
		Message: "Sidecar spawned",
	})
}

// LogSpawnFailure records a failed worker start.
func (l *EventLog) LogSpawnFailure(sidecar string, err error) error {
	return l.write(Event{
		Event:   "spawn_failure",
		Sidecar: sidecar,
		Success: false,
		Message: "Sidecar failed to start",
		Error:   errString(err),
	})
}

// LogKill records a termination attempt and its outcome.
func (l *EventLog) LogKill(sidecar string, pid int, trigger string, err error) error {
	ev := Event{
		Event:   "kill",
		Sidecar: sidecar,
		PID:     pid,
		Trigger: trigger,
		Success: err == nil,
		Message: fmt.Sprintf("Sidecar killed on %s", trigger),
	}
	if err != nil {
		ev.Event = "kill_failure"
		ev.Message = fmt.Sprintf("Sidecar kill on %s failed", trigger)
		ev.Error = err.Error()
	}
	return l.write(ev)
}

// LogExited records the worker's exit status.
func (l *EventLog) LogExited(sidecar string, pid, code int, signal string) error {
	ev := Event{
		Event:   "exited",
		Sidecar: sidecar,
		PID:     pid,
		Signal:  signal,
		Success: code == 0 && signal == "",
		Message: "Sidecar exited",
	}
	if signal == "" {
		ev.ExitCode = &code
	}
	return l.write(ev)
}

// LogStaleReaped records that an orphan from a previous run was killed.
func (l *EventLog) LogStaleReaped(sidecar string, pid int) error {
	return l.write(Event{
		Event:   "stale_pid_killed",
		Sidecar: sidecar,
		PID:     pid,
		Success: true,
		Message: "Orphaned sidecar from a previous run was killed",
	})
}

// LogReady records the readiness check outcome.
func (l *EventLog) LogReady(sidecar string, attempts int, elapsed time.Duration, err error) error {
	ev := Event{
		Event:   "ready",
		Sidecar: sidecar,
		Success: err == nil,
		Message: fmt.Sprintf("Readiness check (attempts: %d, duration: %v)", attempts, elapsed),
	}
	if err != nil {
		ev.Event = "ready_timeout"
		ev.Error = err.Error()
	}
	return l.write(ev)
}

func (l *EventLog) write(event Event) error {
	if l == nil {
		return nil
	}
	event.Timestamp = time.Now()
	event.SessionID = l.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
