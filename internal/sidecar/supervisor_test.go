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
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/cortex/internal/lifecycle"
	"github.com/tombee/cortex/internal/log"
)

// fakeHandle counts kills and closes its event channel on the first one.
type fakeHandle struct {
	pid     int
	kills   atomic.Int32
	killErr error
	events  chan CommandEvent
	once    sync.Once
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Kill() error {
	h.kills.Add(1)
	h.once.Do(func() {
		h.events <- CommandEvent{Kind: EventTerminated, Code: -1, Signal: "killed"}
		close(h.events)
	})
	return h.killErr
}

type fakeLauncher struct {
	handle *fakeHandle
	err    error
	spawns atomic.Int32
}

func newFakeLauncher(pid int) *fakeLauncher {
	return &fakeLauncher{handle: &fakeHandle{pid: pid, events: make(chan CommandEvent, 16)}}
}

func (l *fakeLauncher) Spawn(ctx context.Context) (<-chan CommandEvent, Handle, error) {
	l.spawns.Add(1)
	if l.err != nil {
		return nil, nil, l.err
	}
	return l.handle.events, l.handle, nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
}

func (r *sleepRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestSupervisor(t *testing.T, launcher Launcher) (*Supervisor, *sleepRecorder) {
	t.Helper()
	s := New(Options{
		Name:        "cortex-agent",
		Launcher:    launcher,
		GracePeriod: 500 * time.Millisecond,
		Stdout:      &bytes.Buffer{},
		Stderr:      &bytes.Buffer{},
		Logger:      log.Discard(),
	})
	rec := &sleepRecorder{}
	s.sleep = rec.sleep
	return s, rec
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
	}
}

func TestSupervisor_StartStoresHandle(t *testing.T) {
	l := newFakeLauncher(4242)
	s, _ := newTestSupervisor(t, l)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.running())
	assert.Equal(t, 4242, s.PID())
	assert.Equal(t, int32(1), l.spawns.Load())

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, int32(1), l.spawns.Load(), "second start must not spawn")

	s.OnExit()
	waitDone(t, s)
}

func TestSupervisor_KillAtMostOnce(t *testing.T) {
	orders := map[string][]func(*Supervisor){
		"window close then exit": {
			(*Supervisor).OnWindowClose,
			(*Supervisor).OnExit,
		},
		"exit then window close": {
			(*Supervisor).OnExit,
			(*Supervisor).OnWindowClose,
		},
		"close, exit requested, exit": {
			(*Supervisor).OnWindowClose,
			(*Supervisor).OnExit,
			(*Supervisor).OnExit,
		},
		"exit twice": {
			(*Supervisor).OnExit,
			(*Supervisor).OnExit,
		},
	}

	for name, triggers := range orders {
		t.Run(name, func(t *testing.T) {
			l := newFakeLauncher(100)
			s, _ := newTestSupervisor(t, l)
			require.NoError(t, s.Start(context.Background()))

			for _, trigger := range triggers {
				trigger(s)
			}

			assert.Equal(t, int32(1), l.handle.kills.Load())
			assert.False(t, s.running())
			waitDone(t, s)
		})
	}
}

func TestSupervisor_ConcurrentTriggers(t *testing.T) {
	l := newFakeLauncher(100)
	s, _ := newTestSupervisor(t, l)
	require.NoError(t, s.Start(context.Background()))

	var wg sync.WaitGroup
	var performed atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		trigger := TriggerExit
		if i%2 == 0 {
			trigger = TriggerWindowClose
		}
		go func() {
			defer wg.Done()
			if s.Terminate(trigger) {
				performed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), performed.Load())
	assert.Equal(t, int32(1), l.handle.kills.Load())
	waitDone(t, s)
}

func TestSupervisor_GraceOnlyAfterKill(t *testing.T) {
	t.Run("exit path kill waits", func(t *testing.T) {
		l := newFakeLauncher(100)
		s, rec := newTestSupervisor(t, l)
		require.NoError(t, s.Start(context.Background()))

		s.OnExit()
		assert.Equal(t, []time.Duration{500 * time.Millisecond}, rec.calls)

		s.OnExit()
		assert.Equal(t, 1, rec.count(), "empty slot must not wait")
		waitDone(t, s)
	})

	t.Run("window close never waits", func(t *testing.T) {
		l := newFakeLauncher(100)
		s, rec := newTestSupervisor(t, l)
		require.NoError(t, s.Start(context.Background()))

		s.OnWindowClose()
		s.OnExit()
		assert.Equal(t, 0, rec.count())
		waitDone(t, s)
	})

	t.Run("zero grace period", func(t *testing.T) {
		l := newFakeLauncher(100)
		s, rec := newTestSupervisor(t, l)
		s.grace = 0
		require.NoError(t, s.Start(context.Background()))

		s.OnExit()
		assert.Equal(t, 0, rec.count())
		waitDone(t, s)
	})
}

func TestSupervisor_NeverStarted(t *testing.T) {
	l := newFakeLauncher(100)
	s, rec := newTestSupervisor(t, l)

	assert.False(t, s.Terminate(TriggerWindowClose))
	s.OnWindowClose()
	s.OnExit()

	assert.Equal(t, int32(0), l.handle.kills.Load())
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, s.PID())
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	before := testutil.ToFloat64(sidecarSpawns.WithLabelValues("failure"))

	l := newFakeLauncher(100)
	l.err = errors.New("exec format error")
	s, rec := newTestSupervisor(t, l)

	err := s.Start(context.Background())
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "cortex-agent", spawnErr.Name)
	assert.Contains(t, err.Error(), "exec format error")
	assert.False(t, s.running())
	assert.Equal(t, before+1, testutil.ToFloat64(sidecarSpawns.WithLabelValues("failure")))

	s.OnWindowClose()
	s.OnExit()
	assert.Equal(t, int32(0), l.handle.kills.Load())
	assert.Equal(t, 0, rec.count())
}

func TestSupervisor_KillErrorSwallowed(t *testing.T) {
	before := testutil.ToFloat64(sidecarTerminations.WithLabelValues(TriggerWindowClose, "already_exited"))

	l := newFakeLauncher(100)
	l.handle.killErr = os.ErrProcessDone
	s, _ := newTestSupervisor(t, l)
	require.NoError(t, s.Start(context.Background()))

	assert.False(t, s.Terminate(TriggerWindowClose), "no kill delivered to an exited worker")
	assert.False(t, s.running(), "handle is discarded even when the kill fails")
	assert.False(t, s.Terminate(TriggerExit))
	assert.Equal(t, int32(1), l.handle.kills.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(sidecarTerminations.WithLabelValues(TriggerWindowClose, "already_exited")))
	waitDone(t, s)
}

func TestSupervisor_NoGraceWithoutDeliveredKill(t *testing.T) {
	tests := []struct {
		name    string
		killErr error
		result  string
	}{
		{"already exited", os.ErrProcessDone, "already_exited"},
		{"kill failed", errors.New("operation not permitted"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(sidecarTerminations.WithLabelValues(TriggerExit, tt.result))

			l := newFakeLauncher(100)
			l.handle.killErr = tt.killErr
			s, rec := newTestSupervisor(t, l)
			require.NoError(t, s.Start(context.Background()))

			s.OnExit()
			s.OnExit()

			assert.Equal(t, 0, rec.count())
			assert.Equal(t, int32(1), l.handle.kills.Load())
			assert.Equal(t, before+1, testutil.ToFloat64(sidecarTerminations.WithLabelValues(TriggerExit, tt.result)))
			waitDone(t, s)
		})
	}
}

func TestSupervisor_RelaysOutput(t *testing.T) {
	l := newFakeLauncher(100)
	var stdout, stderr bytes.Buffer
	s := New(Options{
		Name:     "cortex-agent",
		Launcher: l,
		Stdout:   &stdout,
		Stderr:   &stderr,
		Logger:   log.Discard(),
	})

	l.handle.events <- CommandEvent{Kind: EventStdout, Line: []byte("ready\n")}
	l.handle.events <- CommandEvent{Kind: EventStderr, Line: []byte("warn\n")}
	require.NoError(t, s.Start(context.Background()))

	s.OnWindowClose()
	waitDone(t, s)

	assert.Equal(t, "[Sidecar STDOUT] ready\n", stdout.String())
	assert.Equal(t, "[Sidecar STDERR] warn\n", stderr.String())
}

func TestSupervisor_PIDFileAndEventLog(t *testing.T) {
	dir := t.TempDir()
	pf := lifecycle.NewPIDFile(filepath.Join(dir, "sidecar.pid"))
	logPath := filepath.Join(dir, "lifecycle.log")

	l := newFakeLauncher(os.Getpid())
	s := New(Options{
		Name:     "cortex-agent",
		Launcher: l,
		Stdout:   &bytes.Buffer{},
		Stderr:   &bytes.Buffer{},
		Logger:   log.Discard(),
		PIDFile:  pf,
		Events:   lifecycle.NewEventLog(logPath, "session-1"),
	})
	s.sleep = func(time.Duration) {}

	require.NoError(t, s.Start(context.Background()))

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	s.OnExit()
	waitDone(t, s)
	assert.False(t, pf.Exists())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"event":"spawn"`)
	assert.Contains(t, out, `"event":"kill"`)
	assert.Contains(t, out, `"trigger":"exit"`)
	assert.Contains(t, out, `"session_id":"session-1"`)
}

func TestSupervisor_ReapsOrphanOnStart(t *testing.T) {
	orphan, err := lifecycle.NewSpawner().Start("sleep", []string{"60"})
	if err != nil {
		t.Skipf("cannot spawn processes: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		orphan.Wait()
		close(exited)
	}()
	defer orphan.Kill()

	dir := t.TempDir()
	pidPath := filepath.Join(dir, "sidecar.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(orphan.PID())+"\n"), 0600))
	logPath := filepath.Join(dir, "lifecycle.log")

	l := newFakeLauncher(os.Getpid())
	s := New(Options{
		Name:     "sleep",
		Launcher: l,
		Stdout:   &bytes.Buffer{},
		Stderr:   &bytes.Buffer{},
		Logger:   log.Discard(),
		PIDFile:  lifecycle.NewPIDFile(pidPath),
		Events:   lifecycle.NewEventLog(logPath, "session-3"),
	})
	s.sleep = func(time.Duration) {}

	require.NoError(t, s.Start(context.Background()))

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("orphaned worker was not killed")
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"stale_pid_killed"`)

	pid, err := lifecycle.NewPIDFile(pidPath).Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid, "PID file should now record the new worker")

	s.OnExit()
	waitDone(t, s)
}

func TestSupervisor_ReadinessCheck(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logPath := filepath.Join(t.TempDir(), "lifecycle.log")
	l := newFakeLauncher(100)
	s := New(Options{
		Name:         "cortex-agent",
		Launcher:     l,
		Stdout:       &bytes.Buffer{},
		Stderr:       &bytes.Buffer{},
		Logger:       log.Discard(),
		Events:       lifecycle.NewEventLog(logPath, "session-2"),
		ReadyURL:     srv.URL + "/api/setup/status",
		ReadyTimeout: 5 * time.Second,
	})
	s.sleep = func(time.Duration) {}

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(data), `"event":"ready"`)
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))

	s.OnExit()
	waitDone(t, s)
}

// lockedBuffer is an io.Writer safe for the relay goroutine and the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) lines() []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(b.String()))
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func shellCommand(t *testing.T, script string) *Command {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	return &Command{Name: "/bin/sh", Args: []string{"-c", script}}
}

func TestSupervisor_RealWorker(t *testing.T) {
	cmd := shellCommand(t, "echo ready; echo '  warming  ' >&2; exec sleep 60")

	stdout, stderr := &lockedBuffer{}, &lockedBuffer{}
	s := New(Options{
		Name:        "sh",
		Launcher:    cmd,
		GracePeriod: 10 * time.Millisecond,
		Stdout:      stdout,
		Stderr:      stderr,
		Logger:      log.Discard(),
	})

	require.NoError(t, s.Start(context.Background()))
	pid := s.PID()
	require.Greater(t, pid, 0)

	require.Eventually(t, func() bool {
		return len(stdout.lines()) == 1 && len(stderr.lines()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	s.OnWindowClose()
	s.OnExit()
	waitDone(t, s)

	assert.Equal(t, []string{"[Sidecar STDOUT] ready"}, stdout.lines())
	assert.Equal(t, []string{"[Sidecar STDERR] warming"}, stderr.lines())
	assert.False(t, lifecycle.IsProcessRunning(pid), "worker should be reaped after kill")
}

func TestSupervisor_WorkerExitsOnItsOwn(t *testing.T) {
	cmd := shellCommand(t, "echo bye; exit 3")

	stdout := &lockedBuffer{}
	s := New(Options{
		Name:     "sh",
		Launcher: cmd,
		Stdout:   stdout,
		Stderr:   &lockedBuffer{},
		Logger:   log.Discard(),
	})
	rec := &sleepRecorder{}
	s.sleep = rec.sleep

	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	assert.Equal(t, []string{"[Sidecar STDOUT] bye"}, stdout.lines())

	before := testutil.ToFloat64(sidecarTerminations.WithLabelValues(TriggerExit, "already_exited"))

	// The handle stays in the slot until a trigger takes it; nothing is signalled
	assert.True(t, s.running())
	s.OnExit()
	assert.False(t, s.running())
	assert.Equal(t, 0, rec.count(), "no grace period after the worker exited on its own")
	assert.Equal(t, before+1, testutil.ToFloat64(sidecarTerminations.WithLabelValues(TriggerExit, "already_exited")))

	s.OnWindowClose()
	assert.Equal(t, 0, rec.count())
}

func TestCommand_SpawnNotFound(t *testing.T) {
	cmd := &Command{Name: "cortex-agent-missing-9c1e", SearchDirs: []string{t.TempDir()}}

	_, _, err := cmd.Spawn(context.Background())
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.ErrorIs(t, err, ErrSidecarNotFound)
	assert.Empty(t, spawnErr.Path)
}

func TestCommand_SpawnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := (&Command{Name: "/bin/sh"}).Spawn(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
