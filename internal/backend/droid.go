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

// droidDriver drives the droid CLI in exec mode with stream-json output.
type droidDriver struct {
	cfg       *config.DroidBackend
	workspace string
	store     *state.Store
}

func (d *droidDriver) Name() string { return "droid" }

func (d *droidDriver) RunTurn(run *state.Run, task *state.Task, prompt string, onActivity Activity) (TurnResult, error) {
	effort := d.cfg.Thinking
	if effort == "xhigh" {
		effort = "max"
	}

	args := []string{
		"exec",
		"--output-format", "stream-json",
		"--input-format", "text",
		"--model", d.cfg.Model,
		"--reasoning-effort", effort,
		"--auto", d.cfg.Auto,
		"--cwd", d.workspace,
	}
	args = append(args, d.cfg.ExtraArgs...)
	if run.ThreadID != "" {
		args = append(args, "--session-id", run.ThreadID)
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
			case "message":
				if value["role"] == "assistant" {
					if text, ok := stringField(value, "text"); ok {
						result.FinalResponse = text
					}
				}
			case "completion":
				if text, ok := stringField(value, "finalText"); ok {
					result.FinalResponse = text
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
