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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/coord"
	"github.com/tombee/overseer/internal/fsx"
	"github.com/tombee/overseer/internal/state"
)

// mockDriver is the deterministic in-process fixture. Each turn bumps a
// per-task counter in the coord dir, writes a heartbeat, and marks the
// task done once the counter reaches steps_per_task. The response embeds
// a well-formed control block so the whole interpret path is exercised.
type mockDriver struct {
	cfg *config.MockBackend
}

func (d *mockDriver) Name() string { return "mock" }

func (d *mockDriver) RunTurn(run *state.Run, task *state.Task, prompt string, onActivity Activity) (TurnResult, error) {
	if err := coord.EnsureLayout(task.CoordDir); err != nil {
		return TurnResult{}, err
	}

	turnsPath := filepath.Join(task.CoordDir, "mock.turns")
	turns := 1
	if data, err := os.ReadFile(turnsPath); err == nil {
		if prev, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			turns = prev + 1
		}
	}
	if err := os.WriteFile(turnsPath, []byte(strconv.Itoa(turns)), 0o644); err != nil {
		return TurnResult{}, err
	}

	heartbeat := filepath.Join(task.CoordDir, "heartbeats", "implementer.epoch")
	if err := os.WriteFile(heartbeat, []byte(fmt.Sprintf("%d\n", fsx.NowEpoch())), 0o644); err != nil {
		return TurnResult{}, err
	}
	if err := onActivity(); err != nil {
		return TurnResult{}, err
	}

	steps := d.cfg.StepsPerTask
	if steps < 1 {
		steps = 1
	}
	done := turns >= steps
	stateText := "active\n"
	status := "in_progress"
	if done {
		stateText = "done\n"
		status = "completed"
	}
	if err := os.WriteFile(filepath.Join(task.CoordDir, coord.StateFile), []byte(stateText), 0o644); err != nil {
		return TurnResult{}, err
	}

	response := fmt.Sprintf(
		"Mock backend processed task %s turn %d.\n<CONTROL_JSON>\n{\"task_id\":%q,\"status\":%q,\"needs_user_input\":false,\"summary\":\"mock progress\",\"next_action\":\"continue\"}\n</CONTROL_JSON>",
		task.ID, turns, task.ID, status,
	)

	return TurnResult{FinalResponse: response}, nil
}
