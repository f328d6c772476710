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

// Package config loads the cortex shell configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSidecarName is the bundled worker executable name.
	DefaultSidecarName = "cortex-agent"

	// DefaultGracePeriod is how long the exit path waits after killing the worker.
	DefaultGracePeriod = 500 * time.Millisecond

	// DefaultReadyTimeout bounds the optional readiness check.
	DefaultReadyTimeout = 30 * time.Second
)

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "sidecar.name")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s", e.Key)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Config is the top-level shell configuration.
type Config struct {
	Sidecar SidecarConfig `yaml:"sidecar"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	// LifecycleLog is the JSON-lines file sidecar lifecycle events are appended to.
	// Empty means <config dir>/lifecycle.log. "-" disables it.
	LifecycleLog string `yaml:"lifecycle_log,omitempty"`
}

// SidecarConfig describes the bundled worker process.
type SidecarConfig struct {
	// Name is the executable name, or a path to it.
	Name string `yaml:"name"`

	// Args are passed to the worker verbatim. Empty by default.
	Args []string `yaml:"args,omitempty"`

	// Env holds extra environment variables layered over the shell's own.
	Env map[string]string `yaml:"env,omitempty"`

	// Dir is the worker's working directory. Empty inherits the shell's.
	Dir string `yaml:"dir,omitempty"`

	// SearchDirs are checked before the directories next to the shell executable.
	SearchDirs []string `yaml:"search_dirs,omitempty"`

	// GracePeriod is the wait after killing the worker on application exit.
	GracePeriod time.Duration `yaml:"grace_period,omitempty"`

	// PIDFile records the worker's PID so a later run can reap an orphan.
	// Empty means <config dir>/sidecar.pid. "-" disables it.
	PIDFile string `yaml:"pid_file,omitempty"`

	// ReadyURL, when set, is polled after spawn until it answers 2xx.
	ReadyURL string `yaml:"ready_url,omitempty"`

	// ReadyTimeout bounds the readiness check.
	ReadyTimeout time.Duration `yaml:"ready_timeout,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`
	Format    string `yaml:"format,omitempty"`
	AddSource bool   `yaml:"add_source,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	// Listen is a host:port for /metrics. Empty disables the endpoint.
	Listen string `yaml:"listen,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sidecar: SidecarConfig{
			Name:         DefaultSidecarName,
			GracePeriod:  DefaultGracePeriod,
			ReadyTimeout: DefaultReadyTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from configPath layered over Default.
// An empty configPath means the default location, where a missing file is not an error.
// An explicitly named file must exist.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, &ConfigError{Key: "config_file", Reason: "cannot locate config directory", Cause: err}
		}
		configPath = p
	}

	if err := cfg.loadFromFile(configPath); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Sidecar.Name == "" {
		c.Sidecar.Name = defaults.Sidecar.Name
	}
	if c.Sidecar.GracePeriod == 0 {
		c.Sidecar.GracePeriod = defaults.Sidecar.GracePeriod
	}
	if c.Sidecar.ReadyTimeout == 0 {
		c.Sidecar.ReadyTimeout = defaults.Sidecar.ReadyTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// loadFromEnv applies CORTEX_* overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("CORTEX_SIDECAR"); val != "" {
		c.Sidecar.Name = val
	}
	if val := os.Getenv("CORTEX_SIDECAR_GRACE_PERIOD"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Sidecar.GracePeriod = d
		}
	}
	if val := os.Getenv("CORTEX_METRICS_LISTEN"); val != "" {
		c.Metrics.Listen = val
	}
}

// Validate checks the configuration for values the shell cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Sidecar.Name) == "" {
		errs = append(errs, "sidecar.name must not be empty")
	}
	if c.Sidecar.GracePeriod < 0 {
		errs = append(errs, fmt.Sprintf("sidecar.grace_period must not be negative, got %v", c.Sidecar.GracePeriod))
	}
	if c.Sidecar.ReadyTimeout < 0 {
		errs = append(errs, fmt.Sprintf("sidecar.ready_timeout must not be negative, got %v", c.Sidecar.ReadyTimeout))
	}
	if u := c.Sidecar.ReadyURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errs = append(errs, fmt.Sprintf("sidecar.ready_url must be an http(s) URL, got %q", u))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return &ConfigError{
			Key:    "validation",
			Reason: strings.Join(errs, "; "),
		}
	}
	return nil
}

// PIDFilePath resolves the sidecar PID file location. Returns "" when disabled.
func (c *Config) PIDFilePath() (string, error) {
	return resolveStatePath(c.Sidecar.PIDFile, "sidecar.pid")
}

// LifecycleLogPath resolves the lifecycle log location. Returns "" when disabled.
func (c *Config) LifecycleLogPath() (string, error) {
	return resolveStatePath(c.LifecycleLog, "lifecycle.log")
}

func resolveStatePath(configured, defaultName string) (string, error) {
	switch configured {
	case "-":
		return "", nil
	case "":
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, defaultName), nil
	default:
		return expandHome(configured)
	}
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
