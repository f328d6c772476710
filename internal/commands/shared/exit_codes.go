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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/cortex/internal/config"
	"github.com/tombee/cortex/internal/sidecar"
)

// Exit codes for the cortex shell
const (
	ExitSuccess       = 0
	ExitStartupFailed = 1
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewStartupError creates an error for failures before the event loop starts
func NewStartupError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitStartupFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewConfigError creates an error for unreadable or invalid configuration
func NewConfigError(cause error) *ExitError {
	return &ExitError{
		Code:    ExitStartupFailed,
		Message: "invalid configuration",
		Cause:   cause,
	}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitStartupFailed
}

// HandleExitError prints err and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	writeError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

func writeError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())
	if s := suggestion(err); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
}

// suggestion returns a hint for errors a user can fix themselves.
func suggestion(err error) string {
	var cfgErr *config.ConfigError
	var spawnErr *sidecar.SpawnError
	switch {
	case errors.Is(err, sidecar.ErrSidecarNotFound):
		return "Install the sidecar next to the cortex executable or set sidecar.name to its path (--sidecar)"
	case errors.As(err, &spawnErr):
		return "Check that the sidecar binary is executable and built for " + sidecar.TargetTriple()
	case errors.As(err, &cfgErr):
		return "Fix the configuration file or remove it to use the defaults"
	default:
		return ""
	}
}
