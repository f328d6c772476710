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

//go:build linux

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// readCmdline returns the NUL-separated argv from /proc/[pid]/cmdline.
func readCmdline(pid int) ([]string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, fmt.Errorf("failed to read cmdline: %w", err)
	}
	args := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(args) == 0 || args[0] == "" {
		return nil, errors.New("empty cmdline")
	}
	return args, nil
}

// getProcessExecutable returns argv[0].
func getProcessExecutable(pid int) (string, error) {
	args, err := readCmdline(pid)
	if err != nil {
		return "", err
	}
	return args[0], nil
}

// getProcessCommand returns the command line space-separated.
func getProcessCommand(pid int) (string, error) {
	args, err := readCmdline(pid)
	if err != nil {
		return "", err
	}
	return strings.Join(args, " "), nil
}
