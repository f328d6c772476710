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

/*
Package lifecycle holds the OS-level process primitives the sidecar supervisor
is built on: process-group spawning with piped output, kill and liveness
checks, a locked PID file for orphan recovery, an HTTP readiness check, and an
append-only lifecycle event log.

# Spawning

Workers are started in their own process group so a single kill reaches any
helper processes they fork:

	proc, err := lifecycle.NewSpawner().Start("/path/to/cortex-agent", nil)
	if err != nil {
	    // Handle error
	}
	go drain(proc.Stdout)
	go drain(proc.Stderr)
	_ = proc.Kill()

# PID File

The shell records the worker PID so the next run can reap a worker orphaned by
an abrupt shell crash:

	pf := lifecycle.NewPIDFile("/path/to/sidecar.pid")
	if info, err := lifecycle.ReapStale(pf, "cortex-agent"); err == nil && info != nil {
	    // An orphan from a previous run was killed
	}
	if err := pf.Write(proc.PID()); err != nil {
	    // Handle error
	}
	defer pf.Remove()

# Readiness

	rc := lifecycle.NewReadinessCheck("http://localhost:8000/api/setup/status")
	attempts, err := rc.Wait(ctx, 30*time.Second)

# Lifecycle Logging

	events := lifecycle.NewEventLog("/path/to/lifecycle.log", sessionID)
	events.LogSpawn("cortex-agent", pid, path)
*/
package lifecycle
