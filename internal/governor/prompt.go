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

package governor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/state"
	"github.com/tombee/overseer/pkg/errors"
	"github.com/tombee/overseer/prompts"
)

// UnresolvedPlaceholders returns the distinct {{name}} placeholders left
// in the input, in order of first appearance.
func UnresolvedPlaceholders(input string) []string {
	var pending []string
	seen := make(map[string]struct{})
	rest := input

	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		after := rest[start+2:]
		end := strings.Index(after, "}}")
		if end < 0 {
			break
		}
		key := strings.TrimSpace(after[:end])
		if key != "" {
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				pending = append(pending, key)
			}
		}
		rest = after[end+2:]
	}

	return pending
}

// RenderTemplate substitutes {{name}} placeholders. Any placeholder left
// unresolved afterwards is an error: the governor never dispatches an
// incomplete prompt.
func RenderTemplate(template string, vars map[string]string) (string, error) {
	rendered := template
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rendered = strings.ReplaceAll(rendered, "{{"+key+"}}", vars[key])
	}

	if pending := UnresolvedPlaceholders(rendered); len(pending) > 0 {
		return "", errors.New("unresolved template placeholders: " + strings.Join(pending, ", "))
	}

	return rendered, nil
}

// launchArgsDisplay renders a role's launch args for prompt text.
func launchArgsDisplay(role config.Role) string {
	if len(role.LaunchArgs) == 0 {
		return "(none)"
	}
	return shellquote.Join(role.LaunchArgs...)
}

// BuildPrompt renders the turn prompt for the active task.
func BuildPrompt(cfg *config.Config, run *state.Run, task *state.Task, recoveryNote string) (string, error) {
	completionLine := "- completion rule: coord_dir/state.md must be exactly 'done'"
	if task.CompletionFile != "" {
		completionLine = fmt.Sprintf("- completion_file: %s", task.CompletionFile)
	}

	recoveryBlock := ""
	if recoveryNote != "" {
		recoveryBlock = fmt.Sprintf("\nRecovery note from governor:\n%s\n", recoveryNote)
	}

	threadID := run.ThreadID
	if threadID == "" {
		threadID = "(new)"
	}

	store := state.NewStore(cfg.StateDir)
	return RenderTemplate(prompts.TurnPrompt, map[string]string{
		"run_id":                     run.RunID,
		"workspace":                  cfg.Workspace,
		"journal":                    store.JournalPath(),
		"state_dir":                  cfg.StateDir,
		"thread_id":                  threadID,
		"task_board":                 run.StatusTable(),
		"task_id":                    task.ID,
		"todo_file":                  task.TodoFile,
		"coord_dir":                  task.CoordDir,
		"completion_line":            completionLine,
		"implementer_harness":        cfg.Roles.Implementer.Harness,
		"implementer_model":          cfg.Roles.Implementer.Model,
		"implementer_thinking":       cfg.Roles.Implementer.Thinking,
		"implementer_args":           launchArgsDisplay(cfg.Roles.Implementer),
		"reviewer_1_harness":         cfg.Roles.Reviewer1.Harness,
		"reviewer_1_model":           cfg.Roles.Reviewer1.Model,
		"reviewer_1_thinking":        cfg.Roles.Reviewer1.Thinking,
		"reviewer_1_args":            launchArgsDisplay(cfg.Roles.Reviewer1),
		"reviewer_2_harness":         cfg.Roles.Reviewer2.Harness,
		"reviewer_2_model":           cfg.Roles.Reviewer2.Model,
		"reviewer_2_thinking":        cfg.Roles.Reviewer2.Thinking,
		"reviewer_2_args":            launchArgsDisplay(cfg.Roles.Reviewer2),
		"reviewer_quorum":            strconv.Itoa(config.ReviewerQuorum(cfg.Roles)),
		"unattended_escalate_policy": string(cfg.Policy.UnattendedEscalate),
		"recovery_block":             recoveryBlock,
	})
}
