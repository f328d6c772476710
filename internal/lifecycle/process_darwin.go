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

//go:build darwin

package lifecycle

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

func psField(pid int, field string) (string, error) {
	output, err := exec.Command("ps", "-p", fmt.Sprintf("%d", pid), "-o", field+"=").Output()
	if err != nil {
		return "", fmt.Errorf("ps command failed: %w", err)
	}
	value := strings.TrimSpace(string(output))
	if value == "" {
		return "", errors.New("empty ps output")
	}
	return value, nil
}

// getProcessExecutable returns the executable path ps reports as comm.
func getProcessExecutable(pid int) (string, error) {
	return psField(pid, "comm")
}

// getProcessCommand returns the command line of the process using ps.
func getProcessCommand(pid int) (string, error) {
	return psField(pid, "command")
}
