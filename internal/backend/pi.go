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
	"path/filepath"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/state"
)

// piDriver drives the pi CLI in print mode with JSON event output. The
// prompt is passed as an argument rather than on stdin; sessions are
// kept under pi-sessions/ in the state dir so the backend owns them.
type piDriver struct {
	cfg       *config.PiBackend
	workspace string
	stateDir  string
	store     *state.Store
}

func (d *piDriver) Name() string { return "pi" }

func (d *piDriver) RunTurn(run *state.Run, task *state.Task, prompt string, onActivity Activity) (TurnResult, error) {
	args := []string{
		"--print",
		"--mode", "json",
		"--model", d.cfg.Model,
		"--thinking", d.cfg.Thinking,
		"--session-dir", filepath.Join(d.stateDir, "pi-sessions"),
		"--no-extensions",
		"--no-skills",
		"--no-prompt-templates",
		"--no-themes",
		prompt,
	}
	if run.ThreadID != "" {
		args = append(args, "--session", run.ThreadID)
	}
	if d.cfg.Provider != "" {
		args = append(args, "--provider", d.cfg.Provider)
	}
	args = append(args, d.cfg.ExtraArgs...)

	cmd := exec.Command(d.cfg.Binary, args...)
	cmd.Dir = d.workspace

	var result TurnResult
	err := runStreaming(cmd, "", d.Name(), func(line string) error {
		if err := d.store.AppendEventLine(line); err != nil {
			return err
		}
		var value map[string]any
		if err := json.Unmarshal([]byte(line), &value); err == nil {
			switch value["type"] {
			case "session":
				if id, ok := stringField(value, "id"); ok {
					result.ThreadID = id
				}
			case "message_end":
				if msg, ok := value["message"].(map[string]any); ok && msg["role"] == "assistant" {
					if text, ok := parseAssistantText(msg["content"]); ok {
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

	if result.ThreadID == "" {
		result.ThreadID = run.ThreadID
	}
	if result.FinalResponse == "" {
		result.FinalResponse = NoAgentMessage
	}
	return result, nil
}
