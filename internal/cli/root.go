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

package cli

import (
	"github.com/spf13/cobra"
	"github.com/tombee/cortex/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for cortex
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cortex",
		Short: "Cortex - desktop shell for the cortex agent",
		Long: `Cortex runs the bundled cortex-agent worker alongside the application
window. The worker is started before the window opens, its output is relayed
to this process, and it is killed when the window closes or the app exits.

Run 'cortex' or 'cortex run' to start.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	verbose, config := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/cortex/config.yaml)")

	return cmd
}

// SetDefaultCommand makes root behave like cmd when no subcommand is given.
// cmd's local flags are shared with root.
func SetDefaultCommand(root, cmd *cobra.Command) {
	root.Flags().AddFlagSet(cmd.Flags())
	root.Args = cmd.Args
	root.RunE = cmd.RunE
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
