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

package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	overseererrors "github.com/tombee/overseer/pkg/errors"
)

// DefaultTeamsDir is the default directory searched for team files.
const DefaultTeamsDir = "teams"

// TeamFile is a reusable role preset loaded from a YAML file or builtin.
type TeamFile struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Roles       RolesConfig `yaml:"roles"`
}

// DefaultRoles returns the builtin xhigh seats: codex implementer and
// reviewer-1 plus a claude reviewer-2, all at xhigh thinking.
func DefaultRoles() RolesConfig {
	return RolesConfig{
		Implementer: Role{
			Harness:    "codex",
			Model:      "gpt-5.3-codex",
			Thinking:   "xhigh",
			LaunchArgs: []string{RequiredCodexArg},
		},
		Reviewer1: Role{
			Harness:    "codex",
			Model:      "gpt-5.3-codex",
			Thinking:   "xhigh",
			LaunchArgs: []string{RequiredCodexArg},
		},
		Reviewer2: Role{
			Harness:    "claude",
			Model:      "claude-opus-4-6",
			Thinking:   "xhigh",
			LaunchArgs: []string{RequiredClaudeArg},
		},
	}
}

// BuiltinTeam returns a builtin team by name, if one exists.
func BuiltinTeam(name string) (TeamFile, bool) {
	switch name {
	case "xhigh":
		return TeamFile{
			Name:        "xhigh",
			Description: "Codex implementer + codex reviewer-1 + Claude reviewer-2, all xhigh",
			Roles:       DefaultRoles(),
		}, true
	default:
		return TeamFile{}, false
	}
}

// BuiltinTeamNames lists the builtin team names.
func BuiltinTeamNames() []string {
	return []string{"xhigh"}
}

// ParseTeamFile reads and validates one team file.
func ParseTeamFile(path string) (TeamFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TeamFile{}, overseererrors.Wrapf(err, "failed to read %s", path)
	}
	var team TeamFile
	if err := yaml.Unmarshal(data, &team); err != nil {
		return TeamFile{}, overseererrors.Wrapf(err, "failed to parse %s", path)
	}
	if err := ValidateRoles(team.Roles); err != nil {
		return TeamFile{}, overseererrors.Wrapf(err, "invalid team %s", path)
	}
	return team, nil
}

// ListTeamFiles returns the sorted YAML team files directly inside dir.
// A missing directory is not an error.
func ListTeamFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "*.yaml")
	if err != nil {
		return nil, overseererrors.Wrapf(err, "failed to read teams dir %s", dir)
	}
	files := make([]string, 0, len(matches))
	for _, match := range matches {
		files = append(files, filepath.Join(dir, match))
	}
	sort.Strings(files)
	return files, nil
}

// ResolveTeamPath maps a team name to its file path inside dir.
func ResolveTeamPath(dir, team string) string {
	file := team
	if !strings.HasSuffix(file, ".yaml") {
		file += ".yaml"
	}
	return filepath.Join(dir, file)
}

// LoadTeam loads a team by name: a file in dir wins over a builtin.
func LoadTeam(dir, team string) (TeamFile, error) {
	path := ResolveTeamPath(dir, team)
	if _, err := os.Stat(path); err == nil {
		return ParseTeamFile(path)
	}
	if builtin, ok := BuiltinTeam(team); ok {
		return builtin, nil
	}
	return TeamFile{}, &overseererrors.NotFoundError{Resource: "team", ID: team}
}

// ResolveTeamRoles applies --team / --team-file selection. Returns nil
// when neither is set, so callers keep the config's own roles.
func ResolveTeamRoles(team, teamFile, teamsDir string) (*RolesConfig, error) {
	if team != "" && teamFile != "" {
		return nil, overseererrors.New("use either --team or --team-file, not both")
	}

	if teamFile != "" {
		loaded, err := ParseTeamFile(teamFile)
		if err != nil {
			return nil, err
		}
		return &loaded.Roles, nil
	}

	if team != "" {
		loaded, err := LoadTeam(teamsDir, team)
		if err != nil {
			return nil, err
		}
		return &loaded.Roles, nil
	}

	return nil, nil
}
