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

// Package initcfg implements the init command: write a starter config.
package initcfg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/fsx"
	"github.com/tombee/overseer/pkg/errors"
)

// NewCommand creates the init command.
func NewCommand() *cobra.Command {
	var (
		output   string
		team     string
		teamFile string
		teamsDir string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := config.ResolveTeamRoles(team, teamFile, teamsDir)
			if err != nil {
				return err
			}
			resolved := config.DefaultRoles()
			if roles != nil {
				resolved = *roles
			}
			if err := config.ValidateRoles(resolved); err != nil {
				return errors.Wrapf(err,
					"invalid team roles for init output %s (codex requires %q and claude requires %q)",
					output, config.RequiredCodexArg, config.RequiredClaudeArg)
			}

			if err := writeStarterConfig(output, resolved); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Output path for starter config")
	cmd.Flags().StringVar(&team, "team", "", "Seed config with team by name (e.g. xhigh)")
	cmd.Flags().StringVar(&teamFile, "team-file", "", "Seed config with team from explicit file path")
	cmd.Flags().StringVar(&teamsDir, "teams-dir", config.DefaultTeamsDir, "Teams directory")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func roleBlock(name string, role config.Role) string {
	args := ""
	for i, arg := range role.LaunchArgs {
		if i > 0 {
			args += ", "
		}
		args += fmt.Sprintf("%q", arg)
	}
	return fmt.Sprintf(`  %s:
    harness: %q
    model: %q
    thinking: %q
    launch_args: [%s]
`, name, role.Harness, role.Model, role.Thinking, args)
}

// writeStarterConfig renders a complete example run config seeded with
// the resolved team and a four-task dependency chain.
func writeStarterConfig(output string, roles config.RolesConfig) error {
	content := fmt.Sprintf(`run_id: example-run
workspace: /path/to/workspace
state_dir: /path/to/runs/example-run
unattended: true
poll_interval_secs: 30

timeouts:
  stall_secs: 900

recovery:
  max_recovery_attempts_per_task: 4
  max_failures_before_block: 6
  backoff_initial_secs: 5
  backoff_max_secs: 120

policy:
  unattended_escalate: best_effort_once

backend:
  kind: codex
  binary: codex
  model: gpt-5.3-codex
  thinking: xhigh
  approval_policy: never
  sandbox_mode: danger-full-access
  extra_args: []

roles:
%s%s%s
tasks:
  - id: call-audio
    todo_file: /path/to/workspace/todos/call-audio-plan.md
    depends_on: []
  - id: call-transport
    todo_file: /path/to/workspace/todos/call-transport-plan.md
    depends_on: [call-audio]
  - id: call-video
    todo_file: /path/to/workspace/todos/call-video-plan.md
    depends_on: [call-audio, call-transport]
  - id: call-native-audio
    todo_file: /path/to/workspace/todos/call-native-audio-plan.md
    depends_on: [call-audio, call-transport, call-video]
`,
		roleBlock("implementer", roles.Implementer),
		roleBlock("reviewer_1", roles.Reviewer1),
		roleBlock("reviewer_2", roles.Reviewer2),
	)

	if dir := filepath.Dir(output); dir != "." {
		if err := fsx.EnsureDir(dir); err != nil {
			return err
		}
	}
	if err := os.WriteFile(output, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", output)
	}
	return nil
}
