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

package run

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tombee/cortex/internal/commands/shared"
	"github.com/tombee/cortex/internal/config"
)

// options binds the run flags. loadConfig reads them back by name.
type options struct {
	sidecar     string
	gracePeriod time.Duration
	metricsAddr string
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sidecar and run until exit",
		Long: `Run starts the bundled cortex-agent worker, relays its output to this
process and keeps it alive until the window closes or the app exits.

Shutdown:
  SIGINT, SIGTERM   exit the app (worker killed, then a short grace period)
  SIGHUP            close the main window (worker killed immediately)

The worker is located by name in the configured search directories, next to
the cortex executable, in ./binaries beside it, then on PATH. A name suffixed
with the target triple (for example cortex-agent-x86_64-unknown-linux-gnu) is
also accepted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(shared.GetConfigPath(), cmd.Flags())
			if err != nil {
				return shared.NewConfigError(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hangup := make(chan os.Signal, 1)
			signal.Notify(hangup, syscall.SIGHUP)
			defer signal.Stop(hangup)

			shell := &Shell{
				Config:  cfg,
				Verbose: shared.GetVerbose(),
				Stdout:  cmd.OutOrStdout(),
				Stderr:  cmd.ErrOrStderr(),
				Hangup:  hangup,
			}
			code, err := shell.Run(ctx)
			if err != nil {
				return err
			}
			if code != shared.ExitSuccess {
				return &shared.ExitError{Code: code, Message: "application exited with a non-zero code"}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.sidecar, "sidecar", "", "Sidecar executable name or path (overrides sidecar.name)")
	cmd.Flags().DurationVar(&opts.gracePeriod, "grace-period", config.DefaultGracePeriod, "Wait after killing the sidecar on exit")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")

	return cmd
}

// loadConfig loads the config file and applies explicitly set flags over it.
func loadConfig(path string, flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("sidecar") {
		cfg.Sidecar.Name, _ = flags.GetString("sidecar")
	}
	if flags.Changed("grace-period") {
		cfg.Sidecar.GracePeriod, _ = flags.GetDuration("grace-period")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Listen, _ = flags.GetString("metrics-addr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
