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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/cortex/internal/log"
)

// recorder collects events in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestApp(t *testing.T, rec *recorder, labels ...string) *App {
	t.Helper()
	b := NewBuilder().WithLogger(log.Discard()).OnWindowEvent(func(w *Window, ev WindowEvent) {
		rec.add(w.Label() + ":" + ev.Kind.String())
	})
	for _, l := range labels {
		b.Window(l)
	}
	app, err := b.Build()
	require.NoError(t, err)
	return app
}

func runAsync(app *App, ctx context.Context, rec *recorder) <-chan int {
	result := make(chan int, 1)
	go func() {
		result <- app.Run(ctx, func(_ *App, ev RunEvent) {
			rec.add(ev.Kind.String())
		})
	}()
	return result
}

func waitCode(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case code := <-ch:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return -1
	}
}

func TestBuild_DefaultWindow(t *testing.T) {
	app := newTestApp(t, &recorder{})

	w, ok := app.Window(DefaultWindow)
	require.True(t, ok)
	assert.Equal(t, DefaultWindow, w.Label())
	assert.Same(t, app, w.App())
	assert.Equal(t, 1, app.WindowCount())
}

func TestBuild_SetupErrorAbortsStartup(t *testing.T) {
	boom := errors.New("spawn failed")
	secondRan := false

	app, err := NewBuilder().
		Setup(func(*App) error { return boom }).
		Setup(func(*App) error { secondRan = true; return nil }).
		Build()

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, app, "no app (and no window) after a failed setup")
	assert.False(t, secondRan)
}

func TestBuild_SetupRunsBeforeWindows(t *testing.T) {
	var windowsDuringSetup int
	app, err := NewBuilder().Setup(func(a *App) error {
		windowsDuringSetup = a.WindowCount()
		return nil
	}).Build()

	require.NoError(t, err)
	assert.Equal(t, 0, windowsDuringSetup)
	assert.Equal(t, 1, app.WindowCount())
}

func TestBuild_DuplicateWindow(t *testing.T) {
	_, err := NewBuilder().Window("main").Window("main").Build()
	assert.Error(t, err)
}

func TestRun_LastWindowCloseExits(t *testing.T) {
	rec := &recorder{}
	app := newTestApp(t, rec)
	done := runAsync(app, context.Background(), rec)

	w, _ := app.Window(DefaultWindow)
	w.Close()

	assert.Equal(t, 0, waitCode(t, done))
	assert.Equal(t, []string{
		"ready",
		"main:close_requested",
		"main:destroyed",
		"exit_requested",
		"exit",
	}, rec.list())
	assert.Equal(t, 0, app.WindowCount())
}

func TestRun_ClosingOneOfTwoWindowsKeepsRunning(t *testing.T) {
	rec := &recorder{}
	app := newTestApp(t, rec, "main", "settings")
	done := runAsync(app, context.Background(), rec)

	settings, _ := app.Window("settings")
	settings.Close()
	// Unknown labels are ignored
	(&Window{label: "ghost", app: app}).Close()
	app.Exit(7)

	assert.Equal(t, 7, waitCode(t, done))
	assert.Equal(t, []string{
		"ready",
		"settings:close_requested",
		"settings:destroyed",
		"exit_requested",
		"exit",
	}, rec.list())
}

func TestRun_ContextCancelExits(t *testing.T) {
	rec := &recorder{}
	app := newTestApp(t, rec)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(app, ctx, rec)

	cancel()

	assert.Equal(t, 0, waitCode(t, done))
	assert.Equal(t, []string{"ready", "exit_requested", "exit"}, rec.list())
}

func TestRun_PostAfterExitDoesNotBlock(t *testing.T) {
	rec := &recorder{}
	app := newTestApp(t, rec)
	done := runAsync(app, context.Background(), rec)
	app.Exit(0)
	waitCode(t, done)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			app.Exit(1)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Exit blocked after Run returned")
	}
	assert.Equal(t, -1, app.Run(context.Background(), nil), "second Run is rejected")
}

type sharedSlot struct{ name string }

func TestStateRegistry(t *testing.T) {
	app := newTestApp(t, &recorder{})

	_, ok := TryState[*sharedSlot](app)
	assert.False(t, ok, "unregistered type")

	first := &sharedSlot{name: "first"}
	assert.True(t, Manage(app, first))
	assert.False(t, Manage(app, &sharedSlot{name: "second"}), "first registration wins")

	got, ok := TryState[*sharedSlot](app)
	require.True(t, ok)
	assert.Same(t, first, got)

	// Distinct types do not collide
	assert.True(t, Manage(app, sharedSlot{name: "value"}))
	v, ok := TryState[sharedSlot](app)
	require.True(t, ok)
	assert.Equal(t, "value", v.name)
}

func TestEventKindStrings(t *testing.T) {
	assert.Equal(t, "unknown", WindowEventKind(99).String())
	assert.Equal(t, "unknown", RunEventKind(99).String())
}
