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

// Package run implements the run command: start or resume the governor.
package run

import (
	"github.com/spf13/cobra"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/governor"
	"github.com/tombee/overseer/internal/log"
	"github.com/tombee/overseer/pkg/errors"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		configPath string
		team       string
		teamFile   string
		teamsDir   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the unattended governor from a config file",
		Long: `Run starts the governor against the tasks in the config file, or
resumes the run recorded in the state directory. The process holds the
state dir lock until the run reaches a terminal status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			roles, err := config.ResolveTeamRoles(team, teamFile, teamsDir)
			if err != nil {
				return err
			}
			if roles != nil {
				cfg.Roles = *roles
			}
			if err := config.ValidateRoles(cfg.Roles); err != nil {
				return errors.Wrapf(err,
					"invalid roles for run config %s (codex requires %q and claude requires %q)",
					configPath, config.RequiredCodexArg, config.RequiredClaudeArg)
			}

			gov, err := governor.New(cfg, log.New(log.FromEnv()))
			if err != nil {
				return err
			}
			return gov.Run()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to overseer config file")
	cmd.Flags().StringVar(&team, "team", "", "Apply team by name (e.g. xhigh) to role settings")
	cmd.Flags().StringVar(&teamFile, "team-file", "", "Apply team from explicit file path")
	cmd.Flags().StringVar(&teamsDir, "teams-dir", config.DefaultTeamsDir, "Teams directory")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
