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

// WindowEventKind identifies a window event.
type WindowEventKind int

const (
	// CloseRequested fires when a window is asked to close, before it is destroyed.
	CloseRequested WindowEventKind = iota
	// Destroyed fires after the window has been removed from the app.
	Destroyed
)

// String returns the event name.
func (k WindowEventKind) String() string {
	switch k {
	case CloseRequested:
		return "close_requested"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// WindowEvent is delivered to OnWindowEvent handlers.
type WindowEvent struct {
	Kind WindowEventKind
}

// RunEventKind identifies an application-level event.
type RunEventKind int

const (
	// Ready fires once when the event loop starts.
	Ready RunEventKind = iota
	// ExitRequested fires when the app is about to exit, explicitly or because
	// the last window closed.
	ExitRequested
	// Exit is the final event before Run returns.
	Exit
)

// String returns the event name.
func (k RunEventKind) String() string {
	switch k {
	case Ready:
		return "ready"
	case ExitRequested:
		return "exit_requested"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// RunEvent is delivered to the callback passed to App.Run.
type RunEvent struct {
	Kind RunEventKind
	// Code is the pending exit code for ExitRequested and Exit.
	Code int
}
