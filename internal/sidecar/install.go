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

	"github.com/tombee/cortex/internal/host"
)

// Install wires s into the application: a setup hook spawns the worker and
// registers s as shared state, and a window handler kills it on close.
// Pass HandleRunEvent to App.Run to cover the exit path.
func Install(ctx context.Context, b *host.Builder, s *Supervisor) *host.Builder {
	return b.
		Setup(func(app *host.App) error {
			if err := s.Start(ctx); err != nil {
				return err
			}
			host.Manage(app, s)
			return nil
		}).
		OnWindowEvent(HandleWindowEvent)
}

// HandleWindowEvent kills the worker when any window is asked to close.
func HandleWindowEvent(w *host.Window, ev host.WindowEvent) {
	if ev.Kind != host.CloseRequested {
		return
	}
	if s, ok := host.TryState[*Supervisor](w.App()); ok {
		s.OnWindowClose()
	}
}

// HandleRunEvent kills the worker on ExitRequested or Exit and waits the
// grace period after an actual kill.
func HandleRunEvent(app *host.App, ev host.RunEvent) {
	switch ev.Kind {
	case host.ExitRequested, host.Exit:
		if s, ok := host.TryState[*Supervisor](app); ok {
			s.OnExit()
		}
	}
}
