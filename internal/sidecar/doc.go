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
Package sidecar supervises the bundled background worker of the desktop shell.

A Supervisor owns exactly one worker process. Start resolves and spawns it,
stores its Handle in a Slot and relays every output line to the shell's own
stdout and stderr:

	[Sidecar STDOUT] ready
	[Sidecar STDERR] warming cache

The Slot is the only state shared between the two shutdown triggers (window
close and application exit). Take is destructive, so whichever trigger runs
first kills the worker and the other finds the slot empty.

Install wires a Supervisor into a host.Builder: the setup hook starts the
worker and registers the supervisor in the host state registry, and the
window and run event handlers look it up again with host.TryState.
*/
package sidecar
