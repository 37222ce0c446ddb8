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

package teams

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTeam = `
name: duo
description: test team
roles:
  implementer: {harness: codex, model: m, thinking: high, launch_args: ["--yolo"]}
  reviewer_1: {harness: codex, model: m, thinking: high, launch_args: ["--yolo"]}
  reviewer_2: {harness: claude, model: m, thinking: high, launch_args: ["--dangerously-skip-permissions"]}
`

const invalidTeam = `
name: broken
roles:
  implementer: {harness: codex, model: m, thinking: high}
  reviewer_1: {harness: codex, model: m, thinking: high, launch_args: ["--yolo"]}
  reviewer_2: {harness: claude, model: m, thinking: high, launch_args: ["--dangerously-skip-permissions"]}
`

func TestListShowsBuiltinsAndFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "duo.yaml"), []byte(validTeam), 0o644))

	cmd := newListCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Flags().Set("dir", dir))
	require.NoError(t, cmd.RunE(cmd, nil))

	assert.Contains(t, out.String(), "xhigh")
	assert.Contains(t, out.String(), "duo\ttest team")
}

func TestListFlagsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(invalidTeam), 0o644))

	cmd := newListCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Flags().Set("dir", dir))
	require.NoError(t, cmd.RunE(cmd, nil))

	assert.Contains(t, out.String(), "broken\tINVALID")
}

func TestValidateRequiresSelection(t *testing.T) {
	cmd := newValidateCommand()
	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")
}

func TestValidateAll(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "duo.yaml"), []byte(validTeam), 0o644))

	cmd := newValidateCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Flags().Set("dir", dir))
	require.NoError(t, cmd.Flags().Set("all", "true"))
	require.NoError(t, cmd.RunE(cmd, nil))

	assert.Contains(t, out.String(), "ok\tbuiltin:xhigh")
	assert.Contains(t, out.String(), "ok\t"+filepath.Join(dir, "duo.yaml"))
}

func TestValidateAllReportsFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(invalidTeam), 0o644))

	cmd := newValidateCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Flags().Set("dir", dir))
	require.NoError(t, cmd.Flags().Set("all", "true"))
	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "team validation failed")
	assert.Contains(t, out.String(), "err\t")
}

func TestValidateConflictingFlags(t *testing.T) {
	cmd := newValidateCommand()
	require.NoError(t, cmd.Flags().Set("all", "true"))
	require.NoError(t, cmd.Flags().Set("team", "xhigh"))
	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be combined")
}
