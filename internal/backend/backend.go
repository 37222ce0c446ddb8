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

// Package backend drives external coding-agent CLIs as child processes.
// Each driver spawns its harness in the workspace, writes the prompt to
// stdin, parses the streaming JSON on stdout per harness convention, and
// reports every raw line to the event log and the activity callback.
package backend

import (
	"fmt"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/state"
)

// NoAgentMessage is the sentinel final response used when a turn produced
// no assistant text. The turn is still accounted and journaled.
const NoAgentMessage = "(no agent message captured)"

// Activity is invoked once per backend stdout line.
type Activity func() error

// TurnResult is the digested output of one backend invocation.
type TurnResult struct {
	// ThreadID is the opaque conversation continuation token, if the
	// stream carried one.
	ThreadID string

	// FinalResponse is the last assistant text, or NoAgentMessage.
	FinalResponse string
}

// Driver runs one turn against a single harness.
type Driver interface {
	// Name returns the harness name for logs and error messages.
	Name() string

	// RunTurn invokes the backend once with the rendered prompt.
	RunTurn(run *state.Run, task *state.Task, prompt string, onActivity Activity) (TurnResult, error)
}

// New builds the driver for the configured backend variant.
func New(cfg *config.Config, store *state.Store) (Driver, error) {
	switch cfg.Backend.Kind {
	case config.BackendCodex:
		return &codexDriver{cfg: cfg.Backend.Codex, workspace: cfg.Workspace, store: store}, nil
	case config.BackendClaude:
		return &claudeDriver{cfg: cfg.Backend.Claude, workspace: cfg.Workspace, store: store}, nil
	case config.BackendDroid:
		return &droidDriver{cfg: cfg.Backend.Droid, workspace: cfg.Workspace, store: store}, nil
	case config.BackendPi:
		return &piDriver{cfg: cfg.Backend.Pi, workspace: cfg.Workspace, stateDir: cfg.StateDir, store: store}, nil
	case config.BackendMock:
		return &mockDriver{cfg: cfg.Backend.Mock}, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// parseAssistantText concatenates the text blocks of a message content
// array: [{"type":"text","text":...}, ...].
func parseAssistantText(content any) (string, bool) {
	blocks, ok := content.([]any)
	if !ok {
		return "", false
	}
	var text string
	for _, block := range blocks {
		entry, ok := block.(map[string]any)
		if !ok {
			continue
		}
		if entry["type"] != "text" {
			continue
		}
		if t, ok := entry["text"].(string); ok {
			text += t
		}
	}
	if text == "" {
		return "", false
	}
	return text, true
}

// stringField reads a string field from a decoded JSON object.
func stringField(value map[string]any, key string) (string, bool) {
	s, ok := value[key].(string)
	return s, ok
}
