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
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/cortex/internal/lifecycle"
	"github.com/tombee/cortex/internal/log"
)

// Shutdown trigger names, used in logs, metrics and the lifecycle log.
const (
	TriggerWindowClose = "window_close"
	TriggerExit        = "exit"
)

// Options configures a Supervisor.
type Options struct {
	// Name is the sidecar name used in logs and for stale-process matching.
	Name string

	// Launcher starts the worker. Required.
	Launcher Launcher

	// GracePeriod is the wait after the exit-path kill.
	GracePeriod time.Duration

	// Stdout and Stderr receive relayed output. Default os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Logger receives supervisor diagnostics. Default slog.Default().
	Logger *slog.Logger

	// PIDFile, if set, records the worker PID for orphan recovery.
	PIDFile *lifecycle.PIDFile

	// Events, if set, receives lifecycle events.
	Events *lifecycle.EventLog

	// ReadyURL, if set, is polled after spawn. Failure is logged only.
	ReadyURL     string
	ReadyTimeout time.Duration
}

// Supervisor owns one worker process for the lifetime of the application.
type Supervisor struct {
	name     string
	launcher Launcher
	grace    time.Duration
	relay    Relay
	logger   *slog.Logger
	pidFile  *lifecycle.PIDFile
	events   *lifecycle.EventLog
	readyURL string
	readyTTL time.Duration

	slot      Slot[Handle]
	started   atomic.Bool
	pid       atomic.Int64
	relayDone chan struct{}
	pidOnce   sync.Once
	cancel    context.CancelFunc

	// sleep is swapped out in tests
	sleep func(time.Duration)
}

// New creates a supervisor. Nothing is spawned until Start.
func New(opts Options) *Supervisor {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		name:      opts.Name,
		launcher:  opts.Launcher,
		grace:     opts.GracePeriod,
		logger:    log.WithComponent(logger, "sidecar").With(slog.String(log.SidecarKey, opts.Name)),
		pidFile:   opts.PIDFile,
		events:    opts.Events,
		readyURL:  opts.ReadyURL,
		readyTTL:  opts.ReadyTimeout,
		relayDone: make(chan struct{}),
		sleep:     time.Sleep,
	}
	s.relay = Relay{Stdout: stdout, Stderr: stderr, Logger: s.logger, OnEvent: s.observe}
	return s
}

// Start spawns the worker, stores its handle and starts relaying its output.
// A spawn failure is returned as *SpawnError and leaves the slot empty.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.reapStale()

	events, handle, err := s.launcher.Spawn(ctx)
	if err != nil {
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			err = &SpawnError{Name: s.name, Cause: err}
		}
		recordSpawn("failure")
		s.events.LogSpawnFailure(s.name, err)
		s.logger.Error("failed to spawn sidecar", log.Error(err))
		return err
	}

	readyCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.slot.Put(handle); err != nil {
		cancel()
		_ = handle.Kill()
		return &SpawnError{Name: s.name, Cause: err}
	}

	pid := handle.PID()
	s.pid.Store(int64(pid))
	recordSpawn("success")
	sidecarRunning.Set(1)

	path := ""
	if c, ok := handle.(*Child); ok {
		path = c.Path()
	}
	s.events.LogSpawn(s.name, pid, path)
	s.writePIDFile(pid)

	go func() {
		defer close(s.relayDone)
		defer cancel()
		s.relay.Run(events)
		sidecarRunning.Set(0)
		s.removePIDFile()
	}()

	if s.readyURL != "" {
		go s.waitReady(readyCtx)
	}

	s.logger.Info("sidecar spawned successfully", slog.Int(log.PIDKey, pid))
	return nil
}

// Terminate takes the handle and kills the worker.
// Returns true only if this call delivered the kill. It returns false when the
// slot was already empty (never started, or another trigger got there first)
// and when the worker had already exited or the kill failed.
// Kill failures are logged and swallowed.
func (s *Supervisor) Terminate(trigger string) bool {
	handle, ok := s.slot.Take()
	if !ok {
		s.logger.Debug("no sidecar to terminate", slog.String(log.TriggerKey, trigger))
		return false
	}

	pid := handle.PID()
	logger := s.logger.With(slog.Int(log.PIDKey, pid), slog.String(log.TriggerKey, trigger))
	switch trigger {
	case TriggerWindowClose:
		logger.Info("window closing: killing sidecar")
	default:
		logger.Info("stopping sidecar")
	}

	if s.cancel != nil {
		s.cancel()
	}

	err := handle.Kill()
	switch {
	case err == nil:
		recordTermination(trigger, "success")
		logger.Debug("sidecar killed")
	case errors.Is(err, os.ErrProcessDone) || errors.Is(err, lifecycle.ErrProcessNotRunning):
		recordTermination(trigger, "already_exited")
		logger.Debug("sidecar had already exited", log.Error(err))
	default:
		recordTermination(trigger, "error")
		logger.Debug("failed to kill sidecar", log.Error(err))
	}
	s.events.LogKill(s.name, pid, trigger, err)
	s.removePIDFile()

	return err == nil
}

// OnWindowClose handles a window close request.
func (s *Supervisor) OnWindowClose() {
	s.Terminate(TriggerWindowClose)
}

// OnExit handles application exit. After delivering a kill it waits the
// grace period so the worker can release its resources.
func (s *Supervisor) OnExit() {
	if s.Terminate(TriggerExit) && s.grace > 0 {
		s.sleep(s.grace)
	}
}

// running reports whether the handle is still waiting in the slot.
func (s *Supervisor) running() bool {
	return s.slot.Occupied()
}

// PID returns the worker PID, or 0 before a successful Start.
func (s *Supervisor) PID() int {
	return int(s.pid.Load())
}

// Done is closed when the worker's output stream has ended.
func (s *Supervisor) Done() <-chan struct{} {
	return s.relayDone
}

// observe handles non-output events from the relay.
func (s *Supervisor) observe(ev CommandEvent) {
	switch ev.Kind {
	case EventTerminated:
		s.logger.Debug("sidecar terminated",
			slog.Int(log.PIDKey, s.PID()),
			slog.Int("exit_code", ev.Code),
			slog.String("signal", ev.Signal),
		)
		s.events.LogExited(s.name, s.PID(), ev.Code, ev.Signal)
	case EventError:
		s.logger.Debug("sidecar stream error", slog.String("message", ev.Message))
	}
}

func (s *Supervisor) reapStale() {
	if s.pidFile == nil || !s.pidFile.Exists() {
		return
	}
	reaped, err := lifecycle.ReapStale(s.pidFile, s.name, s.name+"-"+TargetTriple())
	if err != nil {
		if errors.Is(err, lifecycle.ErrPIDFileLocked) {
			s.logger.Warn("another shell owns the sidecar PID file; not tracking this worker",
				slog.String("path", s.pidFile.Path()))
			s.pidFile = nil
			return
		}
		s.logger.Warn("failed to check for a stale sidecar", log.Error(err))
		return
	}
	if reaped != nil {
		s.logger.Info("killed orphaned sidecar from a previous run",
			slog.Int(log.PIDKey, reaped.PID),
			slog.String("command", reaped.Command),
		)
		s.events.LogStaleReaped(s.name, reaped.PID)
	} else {
		s.logger.Debug("removed stale sidecar PID file", slog.String("path", s.pidFile.Path()))
	}
}

func (s *Supervisor) writePIDFile(pid int) {
	if s.pidFile == nil {
		return
	}
	if err := s.pidFile.Write(pid); err != nil {
		s.logger.Warn("failed to write sidecar PID file", log.Error(err))
	}
}

func (s *Supervisor) removePIDFile() {
	if s.pidFile == nil {
		return
	}
	s.pidOnce.Do(func() {
		if err := s.pidFile.Remove(); err != nil {
			s.logger.Debug("failed to remove sidecar PID file", log.Error(err))
		}
	})
}

func (s *Supervisor) waitReady(ctx context.Context) {
	timeout := s.readyTTL
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	start := time.Now()
	attempts, err := lifecycle.NewReadinessCheck(s.readyURL).Wait(ctx, timeout)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		s.logger.Warn("sidecar did not become ready",
			slog.String("url", s.readyURL),
			slog.Int("attempts", attempts),
			log.Error(err),
		)
		s.events.LogReady(s.name, attempts, elapsed, err)
		return
	}

	s.logger.Info("sidecar ready",
		slog.String("url", s.readyURL),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", elapsed),
	)
	s.events.LogReady(s.name, attempts, elapsed, nil)
}
