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
	"fmt"
	"os/exec"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/state"
)

// codexDriver drives the codex CLI in exec mode with experimental JSON
// event output. thread.started carries the resumable thread id; the last
// item.completed agent_message is the final response.
type codexDriver struct {
	cfg       *config.CodexBackend
	workspace string
	store     *state.Store
}

func (d *codexDriver) Name() string { return "codex" }

func (d *codexDriver) RunTurn(run *state.Run, task *state.Task, prompt string, onActivity Activity) (TurnResult, error) {
	args := []string{
		"exec",
		"--experimental-json",
		"--model", d.cfg.Model,
		"--sandbox", d.cfg.SandboxMode,
		"--config", fmt.Sprintf("model_reasoning_effort=%q", d.cfg.Thinking),
		"--config", fmt.Sprintf("approval_policy=%q", d.cfg.ApprovalPolicy),
		"--cd", d.workspace,
	}
	args = append(args, d.cfg.ExtraArgs...)
	if run.ThreadID != "" {
		args = append(args, "resume", run.ThreadID)
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
			switch value["type"] {
			case "thread.started":
				if id, ok := stringField(value, "thread_id"); ok {
					result.ThreadID = id
				}
			case "item.completed":
				if item, ok := value["item"].(map[string]any); ok && item["type"] == "agent_message" {
					if text, ok := stringField(item, "text"); ok {
						result.FinalResponse = text
					}
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
