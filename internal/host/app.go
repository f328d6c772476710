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

package host

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/tombee/cortex/internal/log"
)

// DefaultWindow is the label of the window created when none is declared.
const DefaultWindow = "main"

// Builder collects hooks and windows before the app starts.
type Builder struct {
	labels         []string
	setup          []func(*App) error
	windowHandlers []func(*Window, WindowEvent)
	logger         *slog.Logger
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Window declares a window to create once setup has succeeded.
func (b *Builder) Window(label string) *Builder {
	b.labels = append(b.labels, label)
	return b
}

// Setup registers a hook run once by Build, in registration order.
// An error from any hook aborts startup.
func (b *Builder) Setup(fn func(*App) error) *Builder {
	b.setup = append(b.setup, fn)
	return b
}

// OnWindowEvent registers a handler for every window event.
func (b *Builder) OnWindowEvent(fn func(*Window, WindowEvent)) *Builder {
	b.windowHandlers = append(b.windowHandlers, fn)
	return b
}

// WithLogger sets the logger used for host diagnostics.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build runs the setup hooks and then creates the windows.
// If a hook fails no window is created and the error is returned.
func (b *Builder) Build() (*App, error) {
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		state:          make(map[reflect.Type]any),
		windows:        make(map[string]*Window),
		requests:       make(chan request, 16),
		done:           make(chan struct{}),
		windowHandlers: b.windowHandlers,
		logger:         log.WithComponent(logger, "host"),
	}

	for _, fn := range b.setup {
		if err := fn(app); err != nil {
			return nil, fmt.Errorf("setup failed: %w", err)
		}
	}

	labels := b.labels
	if len(labels) == 0 {
		labels = []string{DefaultWindow}
	}
	for _, label := range labels {
		if _, exists := app.windows[label]; exists {
			return nil, fmt.Errorf("duplicate window label %q", label)
		}
		app.windows[label] = &Window{label: label, app: app}
	}

	return app, nil
}

type request struct {
	closeLabel string
	exit       bool
	code       int
}

// App is a running application.
type App struct {
	mu      sync.Mutex
	state   map[reflect.Type]any
	windows map[string]*Window

	requests chan request
	done     chan struct{}
	runOnce  sync.Once

	windowHandlers []func(*Window, WindowEvent)
	logger         *slog.Logger
}

// Window returns the window with the given label, if it still exists.
func (a *App) Window(label string) (*Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[label]
	return w, ok
}

// WindowCount returns the number of live windows.
func (a *App) WindowCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows)
}

// Exit asks the event loop to run the exit sequence with the given code.
// Safe to call from any goroutine; a no-op once Run has returned.
func (a *App) Exit(code int) {
	a.post(request{exit: true, code: code})
}

func (a *App) post(r request) {
	select {
	case a.requests <- r:
	case <-a.done:
	}
}

// Run drives the foreground event loop until the app exits and returns the exit code.
// The loop exits when Exit is called, when ctx is done, or when the last window closes.
// fn receives Ready first and ExitRequested then Exit last. Run may only be called once.
func (a *App) Run(ctx context.Context, fn func(*App, RunEvent)) int {
	code := -1
	a.runOnce.Do(func() {
		code = a.run(ctx, fn)
	})
	return code
}

func (a *App) run(ctx context.Context, fn func(*App, RunEvent)) int {
	if fn == nil {
		fn = func(*App, RunEvent) {}
	}
	defer close(a.done)

	fn(a, RunEvent{Kind: Ready})

	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("run context done, exiting", log.Error(ctx.Err()))
			return a.exit(fn, 0)

		case req := <-a.requests:
			if req.exit {
				return a.exit(fn, req.code)
			}
			if a.closeWindow(req.closeLabel) && a.WindowCount() == 0 {
				a.logger.Debug("last window closed, exiting")
				return a.exit(fn, 0)
			}
		}
	}
}

func (a *App) exit(fn func(*App, RunEvent), code int) int {
	fn(a, RunEvent{Kind: ExitRequested, Code: code})
	fn(a, RunEvent{Kind: Exit, Code: code})
	return code
}

// closeWindow delivers CloseRequested, destroys the window and delivers Destroyed.
// Returns false when no such window exists.
func (a *App) closeWindow(label string) bool {
	w, ok := a.Window(label)
	if !ok {
		return false
	}

	a.logger.Debug("window close requested", slog.String("window", label))
	a.dispatch(w, WindowEvent{Kind: CloseRequested})

	a.mu.Lock()
	delete(a.windows, label)
	a.mu.Unlock()

	a.dispatch(w, WindowEvent{Kind: Destroyed})
	return true
}

func (a *App) dispatch(w *Window, ev WindowEvent) {
	for _, h := range a.windowHandlers {
		h(w, ev)
	}
}

// Window is a handle to one application window.
type Window struct {
	label string
	app   *App
}

// Label returns the window label.
func (w *Window) Label() string {
	return w.label
}

// App returns the owning application.
func (w *Window) App() *App {
	return w.app
}

// Close requests the window to close. Handlers observe CloseRequested on the event loop.
func (w *Window) Close() {
	w.app.post(request{closeLabel: w.label})
}

// Manage registers v as the shared state for type T.
// The first registration wins; later calls return false and leave it unchanged.
func Manage[T any](a *App, v T) bool {
	key := reflect.TypeOf((*T)(nil)).Elem()

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.state[key]; exists {
		return false
	}
	a.state[key] = v
	return true
}

// TryState returns the shared state registered for type T, if any.
func TryState[T any](a *App) (T, bool) {
	key := reflect.TypeOf((*T)(nil)).Elem()

	a.mu.Lock()
	v, ok := a.state[key]
	a.mu.Unlock()

	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
