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
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// targetTriples maps GOOS/GOARCH to the triple suffix bundled sidecars carry.
var targetTriples = map[string]string{
	"linux/amd64":   "x86_64-unknown-linux-gnu",
	"linux/arm64":   "aarch64-unknown-linux-gnu",
	"darwin/amd64":  "x86_64-apple-darwin",
	"darwin/arm64":  "aarch64-apple-darwin",
	"windows/amd64": "x86_64-pc-windows-msvc",
	"windows/arm64": "aarch64-pc-windows-msvc",
}

// TargetTriple returns the platform suffix used for bundled sidecar binaries.
func TargetTriple() string {
	return targetTriple(runtime.GOOS, runtime.GOARCH)
}

func targetTriple(goos, goarch string) string {
	if t, ok := targetTriples[goos+"/"+goarch]; ok {
		return t
	}
	return goarch + "-unknown-" + goos
}

// Resolve finds the executable for a sidecar name.
//
// A name containing a path separator is used as-is. Otherwise each search
// directory is tried, followed by the shell executable's directory and its
// "binaries" subdirectory, looking for name and name-<target triple>.
// The PATH is the last resort.
func Resolve(name string, dirs []string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		if err := checkExecutable(name); err != nil {
			return "", err
		}
		return name, nil
	}

	candidates := []string{name, name + "-" + TargetTriple()}
	if runtime.GOOS == "windows" {
		candidates = []string{name + ".exe", name + "-" + TargetTriple() + ".exe"}
	}

	for _, dir := range searchDirs(dirs) {
		for _, c := range candidates {
			p := filepath.Join(dir, c)
			if checkExecutable(p) == nil {
				return p, nil
			}
		}
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("%w: %s (searched %s)", ErrSidecarNotFound, name, strings.Join(searchDirs(dirs), ", "))
}

func searchDirs(configured []string) []string {
	dirs := append([]string(nil), configured...)
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		exeDir := filepath.Dir(exe)
		dirs = append(dirs, exeDir, filepath.Join(exeDir, "binaries"))
	}
	return dirs
}

// checkExecutable verifies path is a regular file the current user may execute.
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSidecarNotFound, path)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
