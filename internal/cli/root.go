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

// Package cli holds the root Cobra command and shared CLI plumbing.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// NewRootCommand creates the root Cobra command for Overseer.
func NewRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "overseer",
		Short: "Overseer - unattended governor for agent-driven task batches",
		Long: `Overseer supervises a dependency-ordered batch of tasks by repeatedly
driving external coding-agent CLIs. Start a run, walk away, and inspect
the journal and state snapshot afterwards: the governor never blocks on
user input and records every decision it makes.

Run 'overseer init' to write a starter configuration.
Run 'overseer run --config <path>' to start or resume a run.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}
}

// HandleExitError prints the error and exits non-zero.
func HandleExitError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
