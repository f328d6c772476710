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

/*
Package cli provides the root command for the cortex shell.

This package creates the main Cobra command and handles global concerns like
version information, persistent flags and exit codes. Individual commands are
implemented in the internal/commands subpackages.

# Command Tree

	cortex            Run the shell (same as 'cortex run')
	├── run           Start the sidecar and run until exit
	└── version       Show version

# Global Flags

	--config    Path to config file (default: ~/.config/cortex/config.yaml)
	-v          Enable debug logging
*/
package cli
