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

package run

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/tombee/cortex/internal/commands/shared"
	"github.com/tombee/cortex/internal/config"
	"github.com/tombee/cortex/internal/host"
	"github.com/tombee/cortex/internal/lifecycle"
	"github.com/tombee/cortex/internal/log"
	"github.com/tombee/cortex/internal/sidecar"
)

// Shell is one run of the application: host, supervisor and their plumbing.
type Shell struct {
	Config  *config.Config
	Verbose bool

	// Stdout and Stderr receive relayed sidecar output.
	Stdout io.Writer
	Stderr io.Writer

	// LogOutput receives diagnostics. Default os.Stderr.
	LogOutput io.Writer

	// Hangup closes the main window on each receive.
	Hangup <-chan os.Signal

	// Launcher overrides the configured sidecar command. Used by tests.
	Launcher sidecar.Launcher

	// SessionID identifies this run in logs. Generated when empty.
	SessionID string
}

// Run starts the host and blocks until the application exits.
// Returns the exit code, or an error when startup was aborted.
func (s *Shell) Run(ctx context.Context) (int, error) {
	cfg := s.Config

	if s.SessionID == "" {
		s.SessionID = lifecycle.NewSessionID()
	}
	logger := log.WithSession(s.newLogger(), s.SessionID)

	supervisor, err := s.newSupervisor(logger)
	if err != nil {
		return shared.ExitStartupFailed, shared.NewStartupError("failed to prepare sidecar", err)
	}

	if cfg.Metrics.Listen != "" {
		srv, err := startMetricsServer(cfg.Metrics.Listen, logger)
		if err != nil {
			return shared.ExitStartupFailed, shared.NewStartupError("failed to start metrics endpoint", err)
		}
		defer srv.shutdown()
	}

	builder := host.NewBuilder().
		WithLogger(logger).
		Window(host.DefaultWindow)

	app, err := sidecar.Install(ctx, builder, supervisor).Build()
	if err != nil {
		logger.Error("startup aborted", log.Error(err))
		return shared.ExitStartupFailed, shared.NewStartupError("startup aborted", err)
	}

	stopHangup := s.watchHangup(app, logger)
	defer stopHangup()

	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-supervisor.Done():
			logger.Debug("sidecar output closed", slog.Int(log.PIDKey, supervisor.PID()))
		case <-runDone:
		}
	}()

	logger.Debug("event loop starting", slog.Int("windows", app.WindowCount()))
	code := app.Run(ctx, sidecar.HandleRunEvent)
	logger.Debug("event loop finished", slog.Int("exit_code", code))

	return code, nil
}

func (s *Shell) newLogger() *slog.Logger {
	base := log.DefaultConfig()
	base.Level = s.Config.Log.Level
	base.Format = log.Format(s.Config.Log.Format)
	base.AddSource = s.Config.Log.AddSource
	if s.LogOutput != nil {
		base.Output = s.LogOutput
	}

	cfg := log.FromEnv(base)
	if s.Verbose {
		cfg.Level = "debug"
	}
	return log.New(cfg)
}

func (s *Shell) newSupervisor(logger *slog.Logger) (*sidecar.Supervisor, error) {
	sc := s.Config.Sidecar

	pidPath, err := s.Config.PIDFilePath()
	if err != nil {
		return nil, err
	}
	var pidFile *lifecycle.PIDFile
	if pidPath != "" {
		pidFile = lifecycle.NewPIDFile(pidPath)
	}

	logPath, err := s.Config.LifecycleLogPath()
	if err != nil {
		return nil, err
	}

	launcher := s.Launcher
	if launcher == nil {
		launcher = sidecar.NewCommand(sc)
	}

	return sidecar.New(sidecar.Options{
		Name:         sc.Name,
		Launcher:     launcher,
		GracePeriod:  sc.GracePeriod,
		Stdout:       s.Stdout,
		Stderr:       s.Stderr,
		Logger:       logger,
		PIDFile:      pidFile,
		Events:       lifecycle.NewEventLog(logPath, s.SessionID),
		ReadyURL:     sc.ReadyURL,
		ReadyTimeout: sc.ReadyTimeout,
	}), nil
}

// watchHangup closes the main window whenever a hangup arrives.
func (s *Shell) watchHangup(app *host.App, logger *slog.Logger) func() {
	if s.Hangup == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-s.Hangup:
				w, ok := app.Window(host.DefaultWindow)
				if !ok {
					continue
				}
				logger.Info("received signal, closing window",
					slog.String("signal", sig.String()),
					slog.String("window", w.Label()),
				)
				w.Close()
			}
		}
	}()
	return func() { close(done) }
}
