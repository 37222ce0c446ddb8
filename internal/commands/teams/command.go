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

// Package teams implements the team preset management commands.
package teams

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/pkg/errors"
)

// NewCommand creates the teams command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "Manage reusable role/model team definitions",
	}
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newValidateCommand())
	return cmd
}

func teamStem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func newListCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := config.ListTeamFiles(dir)
			if err != nil {
				return err
			}

			fileNames := make(map[string]struct{}, len(files))
			for _, path := range files {
				fileNames[teamStem(path)] = struct{}{}
			}

			// Builtins print first; a file with the same stem shadows its builtin.
			for _, name := range config.BuiltinTeamNames() {
				if _, shadowed := fileNames[name]; shadowed {
					continue
				}
				team, _ := config.BuiltinTeam(name)
				printTeamLine(cmd, name, team.Description)
			}

			if len(files) == 0 {
				if len(config.BuiltinTeamNames()) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "(no teams found in %s)\n", dir)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "(no file-based teams in %s)\n", dir)
				}
				return nil
			}

			for _, path := range files {
				team, err := config.ParseTeamFile(path)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tINVALID (%v)\n", teamStem(path), err)
					continue
				}
				name := team.Name
				if name == "" {
					name = teamStem(path)
				}
				printTeamLine(cmd, name, team.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", config.DefaultTeamsDir, "Teams directory")
	return cmd
}

func printTeamLine(cmd *cobra.Command, name, description string) {
	if description == "" {
		fmt.Fprintln(cmd.OutOrStdout(), name)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, description)
}

func newValidateCommand() *cobra.Command {
	var (
		team string
		file string
		dir  string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate team file(s) and required harness launch args",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && team == "" && file == "" {
				return errors.New("provide one of --all, --team <name>, or --file <path>")
			}
			if all && (team != "" || file != "") {
				return errors.New("--all cannot be combined with --team/--file")
			}
			if team != "" && file != "" {
				return errors.New("use either --team or --file, not both")
			}

			var failures []string
			report := func(label string, err error) {
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "ok\t%s\n", label)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "err\t%s\t%v\n", label, err)
				failures = append(failures, fmt.Sprintf("%s: %v", label, err))
			}

			switch {
			case all:
				files, err := config.ListTeamFiles(dir)
				if err != nil {
					return err
				}
				fileNames := make(map[string]struct{}, len(files))
				for _, path := range files {
					fileNames[teamStem(path)] = struct{}{}
				}
				for _, name := range config.BuiltinTeamNames() {
					if _, shadowed := fileNames[name]; shadowed {
						continue
					}
					_, err := config.LoadTeam(dir, name)
					report("builtin:"+name, err)
				}
				for _, path := range files {
					_, err := config.ParseTeamFile(path)
					report(path, err)
				}
				if len(files) == 0 && len(config.BuiltinTeamNames()) == 0 {
					failures = append(failures, "no teams available to validate")
				}
			case file != "":
				_, err := config.ParseTeamFile(file)
				report(file, err)
			default:
				_, err := config.LoadTeam(dir, team)
				report(team, err)
			}

			if len(failures) > 0 {
				return fmt.Errorf("team validation failed:\n%s", strings.Join(failures, "\n"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&team, "team", "", "Validate a specific team by name (file stem)")
	cmd.Flags().StringVar(&file, "file", "", "Validate an explicit team file path")
	cmd.Flags().StringVar(&dir, "dir", config.DefaultTeamsDir, "Teams directory")
	cmd.Flags().BoolVar(&all, "all", false, "Validate all team files in the teams directory")
	return cmd
}
