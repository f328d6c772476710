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

import "sync"

// Slot holds at most one value and hands it out at most once.
// Put succeeds only on the first call; Take empties the slot.
// The zero value is an empty slot ready for use.
type Slot[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	filled bool
}

// Put stores v. Returns ErrSlotOccupied if the slot was ever filled before,
// even if the value has since been taken.
func (s *Slot[T]) Put(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filled {
		return ErrSlotOccupied
	}
	s.value = v
	s.full = true
	s.filled = true
	return nil
}

// Take removes and returns the value. ok is false when the slot is empty.
func (s *Slot[T]) Take() (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		return v, false
	}
	v = s.value
	var zero T
	s.value = zero
	s.full = false
	return v, true
}

// Occupied reports whether a value is waiting to be taken.
func (s *Slot[T]) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full
}
