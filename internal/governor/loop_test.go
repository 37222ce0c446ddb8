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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/overseer/internal/backend"
	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/state"
)

func mockConfig(t *testing.T, stepsPerTask int, taskIDs ...string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	cfg.StateDir = t.TempDir()
	cfg.PollIntervalSecs = 1
	cfg.Backend = config.BackendConfig{Kind: config.BackendMock, Mock: &config.MockBackend{StepsPerTask: stepsPerTask}}
	cfg.Roles = config.DefaultRoles()
	for i, id := range taskIDs {
		task := config.TaskConfig{ID: id, TodoFile: id + ".md"}
		if i > 0 {
			task.DependsOn = []string{taskIDs[i-1]}
		}
		cfg.Tasks = append(cfg.Tasks, task)
	}
	return &cfg
}

func newTestGovernor(t *testing.T, cfg *config.Config) *Governor {
	t.Helper()
	gov, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	gov.sleep = func(time.Duration) {}
	require.NoError(t, gov.store.EnsureLayout())
	require.NoError(t, gov.boot())
	return gov
}

func readJournal(t *testing.T, gov *Governor) string {
	t.Helper()
	data, err := os.ReadFile(gov.store.JournalPath())
	require.NoError(t, err)
	return string(data)
}

// scriptedDriver replays canned responses, capturing prompts.
type scriptedDriver struct {
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (d *scriptedDriver) Name() string { return "scripted" }

func (d *scriptedDriver) RunTurn(run *state.Run, task *state.Task, prompt string, onActivity backend.Activity) (backend.TurnResult, error) {
	idx := d.calls
	d.calls++
	d.prompts = append(d.prompts, prompt)
	if idx < len(d.errs) && d.errs[idx] != nil {
		return backend.TurnResult{}, d.errs[idx]
	}
	response := d.responses[len(d.responses)-1]
	if idx < len(d.responses) {
		response = d.responses[idx]
	}
	return backend.TurnResult{FinalResponse: response}, nil
}

func escalateResponse() string {
	return "stuck\n<CONTROL_JSON>\n{\"status\":\"blocked\",\"next_action\":\"ESCALATE\"}\n</CONTROL_JSON>"
}

func continueResponse() string {
	return "working\n<CONTROL_JSON>\n{\"status\":\"in_progress\",\"next_action\":\"continue\"}\n</CONTROL_JSON>"
}

func TestMockTwoStepCompletion(t *testing.T) {
	cfg := mockConfig(t, 2, "t")
	gov := newTestGovernor(t, cfg)
	coordDir := filepath.Join(cfg.StateDir, "coord", "t")

	// First turn: the mock reports activity but is not done.
	done, err := gov.iterate()
	require.NoError(t, err)
	assert.False(t, done)
	marker, err := os.ReadFile(filepath.Join(coordDir, "state.md"))
	require.NoError(t, err)
	assert.Equal(t, "active\n", string(marker))
	assert.Equal(t, state.TaskRunning, gov.run.Tasks[0].Status)
	assert.Equal(t, uint64(1), gov.run.Cycle)

	// Second turn completes the task.
	done, err = gov.iterate()
	require.NoError(t, err)
	assert.False(t, done)
	marker, _ = os.ReadFile(filepath.Join(coordDir, "state.md"))
	assert.Equal(t, "done\n", string(marker))
	assert.Equal(t, state.TaskCompleted, gov.run.Tasks[0].Status)

	// Third pass terminates the run.
	done, err = gov.iterate()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, state.RunCompleted, gov.run.Status)

	data, err := os.ReadFile(gov.store.SummaryPath())
	require.NoError(t, err)
	var summary state.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 1, summary.TasksTotal)
	assert.Equal(t, 1, summary.TasksCompleted)
	assert.Equal(t, 0, summary.TasksBlocked)
	assert.Contains(t, readJournal(t, gov), "run completed")
}

func TestDependencyGating(t *testing.T) {
	cfg := mockConfig(t, 1, "a", "b")
	gov := newTestGovernor(t, cfg)

	done, err := gov.iterate()
	require.NoError(t, err)
	require.False(t, done)
	assert.True(t, gov.run.Tasks[0].Status == state.TaskRunning || gov.run.Tasks[0].Status == state.TaskCompleted)
	assert.Equal(t, state.TaskPending, gov.run.Tasks[1].Status, "b must wait for a")

	// a finished its single step; the next pass reconciles and starts b.
	done, err = gov.iterate()
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, state.TaskCompleted, gov.run.Tasks[0].Status)
	assert.NotEqual(t, state.TaskPending, gov.run.Tasks[1].Status)

	done, err = gov.iterate()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, state.RunCompleted, gov.run.Status)
}

func TestStrictEscalateBlocksSameIteration(t *testing.T) {
	cfg := mockConfig(t, 99, "t")
	cfg.Policy.UnattendedEscalate = config.EscalateStrict
	gov := newTestGovernor(t, cfg)
	gov.driver = &scriptedDriver{responses: []string{escalateResponse()}}

	done, err := gov.iterate()
	require.NoError(t, err)
	require.False(t, done)

	task := gov.run.Tasks[0]
	assert.Equal(t, state.TaskBlockedBestEffort, task.Status)
	assert.Contains(t, task.BlockedReason, "policy=strict")
	assert.Contains(t, readJournal(t, gov), "task blocked escalate policy")
}

func TestBestEffortOnceEscalateRetriesThenBlocks(t *testing.T) {
	cfg := mockConfig(t, 99, "t")
	gov := newTestGovernor(t, cfg)
	gov.driver = &scriptedDriver{responses: []string{escalateResponse(), escalateResponse()}}

	done, err := gov.iterate()
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, state.TaskRunning, gov.run.Tasks[0].Status)
	assert.Equal(t, 1, gov.run.Tasks[0].UnattendedEscalateRetries)
	assert.Contains(t, readJournal(t, gov), "unattended escalate retry")

	done, err = gov.iterate()
	require.NoError(t, err)
	require.False(t, done)
	task := gov.run.Tasks[0]
	assert.Equal(t, state.TaskBlockedBestEffort, task.Status)
	assert.Contains(t, task.BlockedReason, "policy=best_effort_once")
}

func TestNeedsUserInputJournalsOverride(t *testing.T) {
	cfg := mockConfig(t, 99, "t")
	gov := newTestGovernor(t, cfg)
	gov.driver = &scriptedDriver{responses: []string{
		"waiting\n<CONTROL_JSON>\n{\"status\":\"in_progress\",\"needs_user_input\":true,\"next_action\":\"continue\"}\n</CONTROL_JSON>",
	}}

	_, err := gov.iterate()
	require.NoError(t, err)

	journal := readJournal(t, gov)
	assert.Contains(t, journal, "unattended override")
	// The signal alone never blocks the task.
	assert.Equal(t, state.TaskRunning, gov.run.Tasks[0].Status)
}

func TestMissingControlBlockContinues(t *testing.T) {
	cfg := mockConfig(t, 99, "t")
	gov := newTestGovernor(t, cfg)
	gov.driver = &scriptedDriver{responses: []string{"just prose, nothing structured"}}

	done, err := gov.iterate()
	require.NoError(t, err)
	assert.False(t, done)
	assert.Contains(t, readJournal(t, gov), "missing control block")
	assert.Equal(t, state.TaskRunning, gov.run.Tasks[0].Status)
}

func TestStallRecoveryThenBlock(t *testing.T) {
	cfg := mockConfig(t, 99, "t")
	cfg.Timeouts.StallSecs = 1
	cfg.Recovery.MaxRecoveryAttemptsPerTask = 1
	gov := newTestGovernor(t, cfg)
	driver := &scriptedDriver{responses: []string{continueResponse()}}
	gov.driver = driver

	done, err := gov.iterate()
	require.NoError(t, err)
	require.False(t, done)

	// Simulate a long quiet period.
	gov.run.Tasks[0].LastProgressEpoch -= 10
	done, err = gov.iterate()
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, 1, gov.run.Tasks[0].RecoveryAttempts)
	assert.Contains(t, driver.prompts[len(driver.prompts)-1], "Recovery attempt 1 of 1")

	// Still no progress: the next pass gives up.
	gov.run.Tasks[0].LastProgressEpoch -= 10
	done, err = gov.iterate()
	require.NoError(t, err)
	require.False(t, done)
	task := gov.run.Tasks[0]
	assert.Equal(t, state.TaskBlockedBestEffort, task.Status)
	assert.Contains(t, task.BlockedReason, "exceeded recovery attempts after")
	assert.Contains(t, task.BlockedReason, "without progress")
	assert.Contains(t, readJournal(t, gov), "task blocked best-effort")
}

func TestConsecutiveFailuresBlockWithBackoff(t *testing.T) {
	cfg := mockConfig(t, 99, "t")
	cfg.Recovery.MaxFailuresBeforeBlock = 2
	gov := newTestGovernor(t, cfg)
	turnErr := assert.AnError
	gov.driver = &scriptedDriver{errs: []error{turnErr, turnErr}, responses: []string{continueResponse()}}

	var sleeps []time.Duration
	gov.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	done, err := gov.iterate()
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, 1, gov.consecutiveFailures)
	require.Len(t, sleeps, 1)
	assert.Equal(t, 5*time.Second, sleeps[0], "first failure backs off at initial")

	done, err = gov.iterate()
	require.NoError(t, err)
	require.False(t, done)
	task := gov.run.Tasks[0]
	assert.Equal(t, state.TaskBlockedBestEffort, task.Status)
	assert.Equal(t, "hit 2 consecutive turn failures", task.BlockedReason)
	assert.Equal(t, 0, gov.consecutiveFailures, "counter resets after blocking")
	assert.Contains(t, readJournal(t, gov), "task blocked after repeated failures")
}

func TestQuorumMismatchBlocksTask(t *testing.T) {
	cfg := mockConfig(t, 1, "t")
	gov := newTestGovernor(t, cfg)

	coordDir := filepath.Join(cfg.StateDir, "coord", "t")
	require.NoError(t, os.MkdirAll(coordDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(coordDir, "meta.env"), []byte("REVIEWER_COUNT=3\n"), 0o644))

	done, err := gov.iterate()
	require.NoError(t, err)
	require.False(t, done)

	task := gov.run.Tasks[0]
	assert.Equal(t, state.TaskBlockedBestEffort, task.Status)
	assert.Contains(t, task.BlockedReason, "reviewer quorum mismatch: expected 2")
	assert.Contains(t, task.BlockedReason, "REVIEWER_COUNT=3")
}

func TestDeadlockTerminatesRun(t *testing.T) {
	cfg := mockConfig(t, 1, "t")
	gov := newTestGovernor(t, cfg)
	// Corrupt the dependency after load to force a runtime deadlock.
	gov.run.Tasks[0].DependsOn = []string{"ghost"}

	done, err := gov.iterate()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, state.RunFailedTerminal, gov.run.Status)
	assert.Contains(t, readJournal(t, gov), "deadlock")

	if _, err := os.Stat(gov.store.SummaryPath()); err != nil {
		t.Errorf("deadlock must still write the summary: %v", err)
	}
}

func TestRunCompletesAndResumes(t *testing.T) {
	cfg := mockConfig(t, 1, "t")

	gov, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	gov.sleep = func(time.Duration) {}
	require.NoError(t, gov.Run())

	// The lock is released on exit.
	_, statErr := os.Stat(filepath.Join(cfg.StateDir, "run.lock"))
	assert.True(t, os.IsNotExist(statErr), "run.lock must be released")

	store := state.NewStore(cfg.StateDir)
	run, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.RunCompleted, run.Status)
	firstCycle := run.Cycle
	assert.Greater(t, firstCycle, uint64(0))

	// A second invocation resumes rather than re-initializing.
	gov2, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	gov2.sleep = func(time.Duration) {}
	require.NoError(t, gov2.Run())

	run, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, firstCycle, run.Cycle, "resume must preserve the cycle counter")

	data, err := os.ReadFile(store.JournalPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "run resume")
}

func TestZeroStallThresholdTriggersRecoveryNote(t *testing.T) {
	cfg := mockConfig(t, 99, "t")
	cfg.Timeouts.StallSecs = 0
	gov := newTestGovernor(t, cfg)
	driver := &scriptedDriver{responses: []string{continueResponse()}}
	gov.driver = driver

	// First pass initializes progress to now (age zero, not stalled).
	_, err := gov.iterate()
	require.NoError(t, err)
	assert.Equal(t, 0, gov.run.Tasks[0].RecoveryAttempts)

	// Any elapsed second now exceeds the zero threshold.
	gov.run.Tasks[0].LastProgressEpoch -= 1
	_, err = gov.iterate()
	require.NoError(t, err)
	assert.Equal(t, 1, gov.run.Tasks[0].RecoveryAttempts)
	assert.Contains(t, driver.prompts[len(driver.prompts)-1], "Stall detected")
}
