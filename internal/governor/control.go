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
	"encoding/json"
	"strings"
)

// ControlBlock is the structured object the agent embeds in its final
// response. All fields are optional; a missing block is non-fatal.
type ControlBlock struct {
	TaskID         string `json:"task_id"`
	Status         string `json:"status"`
	NeedsUserInput bool   `json:"needs_user_input"`
	Summary        string `json:"summary"`
	NextAction     string `json:"next_action"`
}

// Control block markers in the assistant response.
const (
	controlStart = "<CONTROL_JSON>"
	controlEnd   = "</CONTROL_JSON>"
)

// ExtractControlBlock scans the response for the first tagged control
// block and parses its body. When no tagged block parses, the first
// single-line brace-delimited JSON object is tried as a fallback.
func ExtractControlBlock(text string) (ControlBlock, bool) {
	start := strings.Index(text, controlStart)
	end := strings.Index(text, controlEnd)
	if start >= 0 && end > start+len(controlStart) {
		raw := strings.TrimSpace(text[start+len(controlStart) : end])
		var control ControlBlock
		if err := json.Unmarshal([]byte(raw), &control); err == nil {
			return control, true
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
			continue
		}
		var control ControlBlock
		if err := json.Unmarshal([]byte(trimmed), &control); err == nil {
			return control, true
		}
	}

	return ControlBlock{}, false
}
