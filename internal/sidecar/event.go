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

// EventKind tags a CommandEvent.
type EventKind int

const (
	// EventStdout carries one line the worker wrote to standard output.
	EventStdout EventKind = iota
	// EventStderr carries one line the worker wrote to standard error.
	EventStderr
	// EventError reports a read failure on one of the worker's streams.
	EventError
	// EventTerminated is the last event; the channel closes after it.
	EventTerminated
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventError:
		return "error"
	case EventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// CommandEvent is one item of the worker's event stream.
type CommandEvent struct {
	Kind EventKind

	// Line holds the raw bytes for EventStdout and EventStderr, newline included.
	Line []byte

	// Message describes an EventError.
	Message string

	// Code is the exit code for EventTerminated, -1 when killed by a signal.
	Code int

	// Signal names the terminating signal for EventTerminated, if any.
	Signal string
}
