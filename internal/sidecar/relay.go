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
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tombee/cortex/internal/log"
)

const (
	stdoutPrefix = "[Sidecar STDOUT]"
	stderrPrefix = "[Sidecar STDERR]"
)

// Relay forwards worker output lines to the shell's own streams.
type Relay struct {
	Stdout io.Writer
	Stderr io.Writer

	// Logger, if set, receives each relayed line at trace level.
	Logger *slog.Logger

	// OnEvent, if set, receives every event that is not an output line.
	OnEvent func(CommandEvent)
}

// Run drains events until the channel closes.
// Stdout lines go to Stdout and stderr lines to Stderr, trimmed and prefixed.
// Write errors are ignored; the stream must keep draining regardless.
func (r *Relay) Run(events <-chan CommandEvent) {
	for ev := range events {
		switch ev.Kind {
		case EventStdout:
			r.forward(r.Stdout, stdoutPrefix, "stdout", ev.Line)
		case EventStderr:
			r.forward(r.Stderr, stderrPrefix, "stderr", ev.Line)
		default:
			if r.OnEvent != nil {
				r.OnEvent(ev)
			}
		}
	}
}

func (r *Relay) forward(w io.Writer, prefix, stream string, raw []byte) {
	line := trimLine(raw)
	recordLine(stream)
	fmt.Fprintf(w, "%s %s\n", prefix, line)
	if r.Logger != nil {
		log.Trace(r.Logger, "sidecar output", slog.String("stream", stream), slog.String("line", line))
	}
}

// trimLine decodes lossily and strips surrounding whitespace.
func trimLine(line []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(line), "\uFFFD"))
}
