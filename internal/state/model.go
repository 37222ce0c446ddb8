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

// Package state holds the governor's runtime model and its on-disk
// persistence: the atomic state snapshot, the human journal, the machine
// event log, the turn log, and the final run summary.
package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/coord"
	"github.com/tombee/overseer/internal/fsx"
)

// RunStatus is the run lifecycle state.
type RunStatus string

const (
	// RunRunning means the governor is still driving tasks.
	RunRunning RunStatus = "running"
	// RunCompleted means every task reached a terminal status.
	RunCompleted RunStatus = "completed"
	// RunFailedTerminal means nothing is runnable and the run is not done.
	RunFailedTerminal RunStatus = "failed_terminal"
)

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	// TaskPending means the task has not started yet.
	TaskPending TaskStatus = "pending"
	// TaskRunning means the governor is actively driving the task.
	TaskRunning TaskStatus = "running"
	// TaskCompleted means the task's completion marker was observed.
	TaskCompleted TaskStatus = "completed"
	// TaskBlockedBestEffort means the governor gave up on the task under
	// unattended policy. Terminal; never revisited.
	TaskBlockedBestEffort TaskStatus = "blocked_best_effort"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskBlockedBestEffort
}

// Task is one unit of work inside a run.
type Task struct {
	ID             string     `json:"id"`
	TodoFile       string     `json:"todo_file"`
	DependsOn      []string   `json:"depends_on"`
	Status         TaskStatus `json:"status"`
	CoordDir       string     `json:"coord_dir"`
	CompletionFile string     `json:"completion_file,omitempty"`
	StartedAt      string     `json:"started_at,omitempty"`
	CompletedAt    string     `json:"completed_at,omitempty"`
	BlockedReason  string     `json:"blocked_reason,omitempty"`

	// LastProgressEpoch is Unix seconds of the newest observed progress;
	// zero means no progress has been observed yet. Monotonically
	// non-decreasing.
	LastProgressEpoch int64 `json:"last_progress_epoch"`

	RecoveryAttempts          int `json:"recovery_attempts"`
	UnattendedEscalateRetries int `json:"unattended_escalate_retries"`
}

// Run is one execution of the governor against a workspace.
type Run struct {
	RunID       string    `json:"run_id"`
	Workspace   string    `json:"workspace"`
	StateDir    string    `json:"state_dir"`
	Unattended  bool      `json:"unattended"`
	Status      RunStatus `json:"status"`
	StartedAt   string    `json:"started_at"`
	UpdatedAt   string    `json:"updated_at"`
	JournalPath string    `json:"journal_path"`

	// ThreadID is the opaque backend conversation continuation token.
	// Read before each spawn, written from the turn's stream.
	ThreadID string `json:"thread_id,omitempty"`

	Cycle      uint64 `json:"cycle"`
	LastTurnAt string `json:"last_turn_at,omitempty"`
	Tasks      []Task `json:"tasks"`
}

// NewRun builds the initial run state from a validated config.
func NewRun(cfg *config.Config) *Run {
	runID := cfg.RunID
	if runID == "" {
		runID = fmt.Sprintf("run-%d", fsx.NowEpoch())
	}

	tasks := make([]Task, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		coordDir := tc.CoordDir
		if coordDir == "" {
			coordDir = filepath.Join(cfg.StateDir, "coord", tc.ID)
		}
		tasks = append(tasks, Task{
			ID:             tc.ID,
			TodoFile:       tc.TodoFile,
			DependsOn:      append([]string{}, tc.DependsOn...),
			Status:         TaskPending,
			CoordDir:       coordDir,
			CompletionFile: tc.CompletionFile,
		})
	}

	now := fsx.NowISO()
	return &Run{
		RunID:       runID,
		Workspace:   cfg.Workspace,
		StateDir:    cfg.StateDir,
		Unattended:  cfg.Unattended,
		Status:      RunRunning,
		StartedAt:   now,
		UpdatedAt:   now,
		JournalPath: filepath.Join(cfg.StateDir, JournalName),
		Tasks:       tasks,
	}
}

// DepsSatisfied reports whether every dependency of the task at idx is
// terminal. Unknown dependency ids keep the task ineligible.
func (r *Run) DepsSatisfied(idx int) bool {
	if idx < 0 || idx >= len(r.Tasks) {
		return false
	}
	for _, dep := range r.Tasks[idx].DependsOn {
		depTask := r.TaskByID(dep)
		if depTask == nil || !depTask.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// TaskByID returns the task with the given id, or nil.
func (r *Run) TaskByID(id string) *Task {
	for i := range r.Tasks {
		if r.Tasks[i].ID == id {
			return &r.Tasks[i]
		}
	}
	return nil
}

// ChooseNextPending returns the index of the first pending task whose
// dependencies are all terminal, or -1.
func (r *Run) ChooseNextPending() int {
	for idx := range r.Tasks {
		if r.Tasks[idx].Status == TaskPending && r.DepsSatisfied(idx) {
			return idx
		}
	}
	return -1
}

// RunningIndex returns the index of the task currently running, or -1.
// At most one task runs at a time.
func (r *Run) RunningIndex() int {
	for idx := range r.Tasks {
		if r.Tasks[idx].Status == TaskRunning {
			return idx
		}
	}
	return -1
}

// AllTerminal reports whether every task reached a terminal status.
func (r *Run) AllTerminal() bool {
	for i := range r.Tasks {
		if !r.Tasks[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// CanExit reports whether it is safe to stop the governor.
func (r *Run) CanExit() bool {
	return r.AllTerminal()
}

// StatusTable renders the task board embedded in turn prompts.
func (r *Run) StatusTable() string {
	lines := make([]string, 0, len(r.Tasks))
	for i := range r.Tasks {
		task := &r.Tasks[i]
		lines = append(lines, fmt.Sprintf("- %s: %s (deps: [%s])",
			task.ID, task.Status, strings.Join(task.DependsOn, ", ")))
	}
	return strings.Join(lines, "\n")
}

// DoneByArtifact reports whether the task's completion marker exists:
// the configured completion file when set, otherwise the coord state.md
// containing exactly "done".
func (t *Task) DoneByArtifact() bool {
	if t.CompletionFile != "" {
		_, ok := fsx.MtimeEpoch(t.CompletionFile)
		return ok
	}
	return coord.Done(t.CoordDir)
}

// MarkStarted promotes the task to running and ensures its coord layout.
func (t *Task) MarkStarted() error {
	t.Status = TaskRunning
	t.BlockedReason = ""
	if t.StartedAt == "" {
		t.StartedAt = fsx.NowISO()
	}
	return coord.EnsureLayout(t.CoordDir)
}

// MarkBlocked moves the task to its terminal blocked status.
func (t *Task) MarkBlocked(reason string) {
	t.Status = TaskBlockedBestEffort
	t.CompletedAt = fsx.NowISO()
	t.BlockedReason = reason
	t.ObserveProgress(fsx.NowEpoch())
}

// ObserveProgress folds a progress timestamp into the task, keeping
// last_progress_epoch monotonically non-decreasing.
func (t *Task) ObserveProgress(epoch int64) {
	if epoch > t.LastProgressEpoch {
		t.LastProgressEpoch = epoch
	}
}

// SyncCompletionAndProgress folds newly observed coord progress into
// running tasks and transitions tasks whose completion marker exists.
// Terminal tasks never leave their terminal status.
func (r *Run) SyncCompletionAndProgress() {
	for i := range r.Tasks {
		task := &r.Tasks[i]

		if task.Status == TaskRunning {
			if ts, ok := coord.LatestProgressEpoch(task.CoordDir); ok {
				task.ObserveProgress(ts)
			}
		}

		if !task.Status.IsTerminal() && task.DoneByArtifact() {
			task.Status = TaskCompleted
			if task.CompletedAt == "" {
				task.CompletedAt = fsx.NowISO()
			}
			task.BlockedReason = ""
			task.ObserveProgress(fsx.NowEpoch())
		}
	}
}
