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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	overseererrors "github.com/tombee/overseer/pkg/errors"
)

const validTeamYAML = `
name: duo
description: two codex seats plus claude
roles:
  implementer: {harness: codex, model: m, thinking: high, launch_args: ["--yolo"]}
  reviewer_1: {harness: codex, model: m, thinking: high, launch_args: ["--yolo"]}
  reviewer_2: {harness: claude, model: m, thinking: high, launch_args: ["--dangerously-skip-permissions"]}
`

func TestBuiltinTeamXhighIsValid(t *testing.T) {
	team, ok := BuiltinTeam("xhigh")
	require.True(t, ok)
	assert.NoError(t, ValidateRoles(team.Roles))
	assert.Equal(t, "xhigh", team.Name)
}

func TestLoadTeamPrefersFileOverBuiltin(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xhigh.yaml"), []byte(validTeamYAML), 0o644))

	team, err := LoadTeam(dir, "xhigh")
	require.NoError(t, err)
	assert.Equal(t, "duo", team.Name)
}

func TestLoadTeamFallsBackToBuiltin(t *testing.T) {
	team, err := LoadTeam(t.TempDir(), "xhigh")
	require.NoError(t, err)
	assert.Equal(t, "xhigh", team.Name)
}

func TestLoadTeamNotFound(t *testing.T) {
	_, err := LoadTeam(t.TempDir(), "ghost")
	require.Error(t, err)
	var notFound *overseererrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestParseTeamFileRejectsMissingLaunchArgs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: broken
roles:
  implementer: {harness: codex, model: m, thinking: high}
  reviewer_1: {harness: codex, model: m, thinking: high, launch_args: ["--yolo"]}
  reviewer_2: {harness: claude, model: m, thinking: high, launch_args: ["--dangerously-skip-permissions"]}
`), 0o644))

	_, err := ParseTeamFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), RequiredCodexArg)
}

func TestListTeamFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(validTeamYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(validTeamYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	files, err := ListTeamFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "a.yaml"), files[0])
	assert.Equal(t, filepath.Join(dir, "b.yaml"), files[1])
}

func TestListTeamFilesMissingDir(t *testing.T) {
	files, err := ListTeamFiles(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestResolveTeamRoles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "duo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validTeamYAML), 0o644))

	t.Run("neither flag keeps config roles", func(t *testing.T) {
		roles, err := ResolveTeamRoles("", "", dir)
		require.NoError(t, err)
		assert.Nil(t, roles)
	})

	t.Run("by name", func(t *testing.T) {
		roles, err := ResolveTeamRoles("duo", "", dir)
		require.NoError(t, err)
		require.NotNil(t, roles)
		assert.Equal(t, "codex", roles.Implementer.Harness)
	})

	t.Run("by file", func(t *testing.T) {
		roles, err := ResolveTeamRoles("", path, dir)
		require.NoError(t, err)
		require.NotNil(t, roles)
	})

	t.Run("both flags rejected", func(t *testing.T) {
		_, err := ResolveTeamRoles("duo", path, dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not both")
	})
}
