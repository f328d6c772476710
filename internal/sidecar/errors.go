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
	"errors"
	"fmt"
)

var (
	// ErrSidecarNotFound is returned when no executable matches the sidecar name.
	ErrSidecarNotFound = errors.New("sidecar executable not found")

	// ErrAlreadyStarted is returned by a second call to Supervisor.Start.
	ErrAlreadyStarted = errors.New("sidecar already started")

	// ErrSlotOccupied is returned when a value is put into a slot that was already filled once.
	ErrSlotOccupied = errors.New("slot already filled")
)

// SpawnError reports that the worker could not be launched.
// It is fatal to application startup.
type SpawnError struct {
	// Name is the configured sidecar name
	Name string

	// Path is the resolved executable, empty when resolution failed
	Path string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	if e.Path != "" && e.Path != e.Name {
		return fmt.Sprintf("failed to spawn sidecar %s (%s): %v", e.Name, e.Path, e.Cause)
	}
	return fmt.Sprintf("failed to spawn sidecar %s: %v", e.Name, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SpawnError) Unwrap() error {
	return e.Cause
}
