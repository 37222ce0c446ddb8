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

package backend

import (
	"encoding/json"
	"os/exec"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/state"
)

// claudeDriver drives the claude CLI in print mode with stream-json
// output. session_id may appear on any event; assistant messages carry
// content blocks, and a trailing result event overrides the final text.
type claudeDriver struct {
	cfg       *config.ClaudeBackend
	workspace string
	store     *state.Store
}

func (d *claudeDriver) Name() string { return "claude" }

func (d *claudeDriver) RunTurn(run *state.Run, task *state.Task, prompt string, onActivity Activity) (TurnResult, error) {
	effort := d.cfg.Thinking
	if effort == "xhigh" {
		effort = "high"
	}

	args := []string{
		"-p",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "text",
		"--model", d.cfg.Model,
		"--effort", effort,
		"--dangerously-skip-permissions",
		"--permission-mode", "bypassPermissions",
		"--add-dir", d.workspace,
	}
	args = append(args, d.cfg.ExtraArgs...)
	if run.ThreadID != "" {
		args = append(args, "--resume", run.ThreadID)
	}

	cmd := exec.Command(d.cfg.Binary, args...)
	cmd.Dir = d.workspace

	var result TurnResult
	err := runStreaming(cmd, prompt, d.Name(), func(line string) error {
		if err := d.store.AppendEventLine(line); err != nil {
			return err
		}
		var value map[string]any
		if err := json.Unmarshal([]byte(line), &value); err == nil {
			if id, ok := stringField(value, "session_id"); ok {
				result.ThreadID = id
			}
			switch value["type"] {
			case "assistant":
				if msg, ok := value["message"].(map[string]any); ok {
					if text, ok := parseAssistantText(msg["content"]); ok {
						result.FinalResponse = text
					}
				}
			case "result":
				if text, ok := stringField(value, "result"); ok {
					result.FinalResponse = text
				}
			}
		}
		return onActivity()
	})
	if err != nil {
		return TurnResult{}, err
	}

	if result.FinalResponse == "" {
		result.FinalResponse = NoAgentMessage
	}
	return result, nil
}
