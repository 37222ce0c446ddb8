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

// Package governor implements the top-level control loop: select a
// runnable task, run a turn against the backend, interpret the control
// block, recover from stalls and failures, and persist every transition.
package governor

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/overseer/internal/backend"
	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/coord"
	"github.com/tombee/overseer/internal/fsx"
	"github.com/tombee/overseer/internal/lock"
	"github.com/tombee/overseer/internal/log"
	"github.com/tombee/overseer/internal/state"
)

// activitySaveInterval bounds snapshot writes during chatty streams.
// Progress fields update in memory on every line; the snapshot hits disk
// at most this often within a turn.
const activitySaveInterval = 5 * time.Second

// Governor drives one run to a terminal status.
type Governor struct {
	cfg    *config.Config
	store  *state.Store
	driver backend.Driver
	logger *slog.Logger

	run                 *state.Run
	consecutiveFailures int
	expectedQuorum      int

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// New wires a Governor from a validated config.
func New(cfg *config.Config, logger *slog.Logger) (*Governor, error) {
	store := state.NewStore(cfg.StateDir)
	driver, err := backend.New(cfg, store)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		cfg:            cfg,
		store:          store,
		driver:         driver,
		logger:         log.WithComponent(logger, "governor"),
		expectedQuorum: config.ReviewerQuorum(cfg.Roles),
		sleep:          time.Sleep,
	}, nil
}

// Run executes the governor until the run reaches a terminal status or
// an unrecoverable error occurs. The state directory lock is held for
// the whole run and released on every exit path.
func (g *Governor) Run() error {
	if err := g.store.EnsureLayout(); err != nil {
		return err
	}

	guard, err := lock.Acquire(g.cfg.StateDir)
	if err != nil {
		return err
	}
	defer guard.Release()

	if err := g.boot(); err != nil {
		return err
	}

	for {
		done, err := g.iterate()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// boot loads the existing snapshot or initializes a fresh run, journals
// the boot or resume, and persists the starting state.
func (g *Governor) boot() error {
	if g.store.Exists() {
		run, err := g.store.Load()
		if err != nil {
			return err
		}
		g.run = run
	} else {
		g.run = state.NewRun(g.cfg)
	}

	if g.run.Cycle == 0 {
		if err := g.store.AppendJournal("run boot", fmt.Sprintf(
			"Starting run %s in %s with %d tasks.", g.run.RunID, g.cfg.Workspace, len(g.run.Tasks))); err != nil {
			return err
		}
	} else {
		if err := g.store.AppendJournal("run resume", fmt.Sprintf(
			"Resuming run %s at cycle %d.", g.run.RunID, g.run.Cycle)); err != nil {
			return err
		}
	}

	g.logger.Info("governor started",
		slog.String(log.RunIDKey, g.run.RunID),
		slog.Uint64(log.CycleKey, g.run.Cycle),
		slog.String(log.BackendKey, g.driver.Name()))

	return g.store.Save(g.run)
}

// iterate performs one loop pass. It returns true when the run reached a
// terminal status; recoverable conditions return (false, nil) after the
// appropriate sleep.
func (g *Governor) iterate() (bool, error) {
	g.run.SyncCompletionAndProgress()

	if g.run.AllTerminal() {
		g.run.Status = state.RunCompleted
		if err := g.store.Save(g.run); err != nil {
			return false, err
		}
		if err := g.store.WriteSummary(g.run, string(g.cfg.Policy.UnattendedEscalate)); err != nil {
			return false, err
		}
		if err := g.store.AppendJournal("run completed", "All tasks reached terminal status."); err != nil {
			return false, err
		}
		g.logger.Info("run completed", slog.String(log.RunIDKey, g.run.RunID))
		return true, nil
	}

	idx := g.run.RunningIndex()
	if idx < 0 {
		next := g.run.ChooseNextPending()
		if next < 0 {
			g.run.Status = state.RunFailedTerminal
			if err := g.store.Save(g.run); err != nil {
				return false, err
			}
			if err := g.store.WriteSummary(g.run, string(g.cfg.Policy.UnattendedEscalate)); err != nil {
				return false, err
			}
			if err := g.store.AppendJournal("deadlock",
				"No runnable pending task found; dependency graph may be invalid."); err != nil {
				return false, err
			}
			g.logger.Error("deadlock", slog.String(log.RunIDKey, g.run.RunID))
			return true, nil
		}

		if err := g.run.Tasks[next].MarkStarted(); err != nil {
			return false, err
		}
		if err := g.store.AppendJournal("task started", fmt.Sprintf(
			"Task %s started with coord dir %s", g.run.Tasks[next].ID, g.run.Tasks[next].CoordDir)); err != nil {
			return false, err
		}
		idx = next
	}

	if actual, ok := coord.ReviewerCount(g.run.Tasks[idx].CoordDir); ok && actual != g.expectedQuorum {
		reason := fmt.Sprintf(
			"reviewer quorum mismatch: expected %d from configured team roles, but coord meta.env has REVIEWER_COUNT=%d",
			g.expectedQuorum, actual)
		if err := g.store.AppendJournal("task blocked reviewer quorum", reason); err != nil {
			return false, err
		}
		g.run.Tasks[idx].MarkBlocked(reason)
		if err := g.store.Save(g.run); err != nil {
			return false, err
		}
		g.pollSleep()
		return false, nil
	}

	now := fsx.NowEpoch()
	recoveryNote := ""
	{
		task := &g.run.Tasks[idx]
		if task.LastProgressEpoch == 0 {
			task.LastProgressEpoch = now
		}

		age := now - task.LastProgressEpoch
		if age > g.cfg.Timeouts.StallSecs {
			if task.RecoveryAttempts >= g.cfg.Recovery.MaxRecoveryAttemptsPerTask {
				reason := fmt.Sprintf("exceeded recovery attempts after %ds without progress", age)
				task.MarkBlocked(reason)
				if err := g.store.AppendJournal("task blocked best-effort", fmt.Sprintf(
					"Task %s exceeded recovery attempts after %ds without progress. Marked blocked_best_effort.",
					task.ID, age)); err != nil {
					return false, err
				}
				if err := g.store.Save(g.run); err != nil {
					return false, err
				}
				g.pollSleep()
				return false, nil
			}

			task.RecoveryAttempts++
			recoveryNote = fmt.Sprintf(
				"Stall detected: no progress for %ds (threshold %ds). Recovery attempt %d of %d.",
				age, g.cfg.Timeouts.StallSecs, task.RecoveryAttempts, g.cfg.Recovery.MaxRecoveryAttemptsPerTask)
		}
	}

	taskSnapshot := g.run.Tasks[idx]
	runSnapshot := *g.run

	prompt, err := BuildPrompt(g.cfg, g.run, &taskSnapshot, recoveryNote)
	if err != nil {
		// Unresolved placeholders are fatal: never dispatch an
		// incomplete prompt.
		return false, err
	}

	g.run.Cycle++
	g.run.LastTurnAt = fsx.NowISO()
	if err := g.store.Save(g.run); err != nil {
		return false, err
	}

	limiter := rate.NewLimiter(rate.Every(activitySaveInterval), 1)
	onActivity := func() error {
		g.run.Tasks[idx].ObserveProgress(fsx.NowEpoch())
		g.run.LastTurnAt = fsx.NowISO()
		if limiter.Allow() {
			return g.store.Save(g.run)
		}
		return nil
	}

	g.logger.Debug("turn dispatch",
		slog.String(log.TaskIDKey, taskSnapshot.ID),
		slog.Uint64(log.CycleKey, g.run.Cycle),
		slog.String(log.BackendKey, g.driver.Name()))

	result, err := g.driver.RunTurn(&runSnapshot, &taskSnapshot, prompt, onActivity)
	if err != nil {
		return false, g.handleTurnFailure(idx, taskSnapshot.ID, err)
	}

	return false, g.handleTurnResult(idx, taskSnapshot.ID, prompt, result)
}

// handleTurnResult applies one successful turn: record the continuation
// token, log the turn, interpret the control block, and persist.
func (g *Governor) handleTurnResult(idx int, taskID, prompt string, result backend.TurnResult) error {
	g.consecutiveFailures = 0
	if result.ThreadID != "" {
		g.run.ThreadID = result.ThreadID
	}
	g.run.LastTurnAt = fsx.NowISO()
	if err := g.store.LogTurn(g.run.Cycle, prompt, result.FinalResponse); err != nil {
		return err
	}

	escalatedReason := ""
	if control, ok := ExtractControlBlock(result.FinalResponse); ok {
		controlTask := control.TaskID
		if controlTask == "" {
			controlTask = "(missing)"
		}
		controlStatus := control.Status
		if controlStatus == "" {
			controlStatus = "(missing)"
		}
		if err := g.store.AppendJournal("turn control", fmt.Sprintf(
			"task=%s control_task=%s status=%s needs_user_input=%t\nsummary=%s\nnext_action=%s",
			taskID, controlTask, controlStatus, control.NeedsUserInput, control.Summary, control.NextAction)); err != nil {
			return err
		}

		if g.cfg.Unattended && control.NeedsUserInput {
			if err := g.store.AppendJournal("unattended override",
				"Orchestrator indicated user input was needed. Governor will continue with best-effort without user interaction."); err != nil {
				return err
			}
		}

		handling := DecideUnattendedEscalate(
			g.cfg.Unattended, g.cfg.Policy.UnattendedEscalate, &g.run.Tasks[idx], control.Status, control.NextAction)
		switch handling {
		case EscalateRetry:
			if err := g.store.AppendJournal("unattended escalate retry", fmt.Sprintf(
				"Task %s requested ESCALATE. Applying best_effort_once retry path (attempt %d).",
				taskID, g.run.Tasks[idx].UnattendedEscalateRetries)); err != nil {
				return err
			}
		case EscalateBlock:
			escalatedReason = fmt.Sprintf(
				"orchestrator requested ESCALATE in unattended mode (policy=%s)", g.cfg.Policy.UnattendedEscalate)
		}
	} else {
		if err := g.store.AppendJournal("missing control block",
			"No CONTROL_JSON block found in orchestrator response. Continuing."); err != nil {
			return err
		}
	}

	g.run.SyncCompletionAndProgress()
	if escalatedReason != "" {
		task := &g.run.Tasks[idx]
		if task.Status != state.TaskCompleted {
			task.MarkBlocked(escalatedReason)
			if err := g.store.AppendJournal("task blocked escalate policy", escalatedReason); err != nil {
				return err
			}
		}
	}
	if err := g.store.Save(g.run); err != nil {
		return err
	}

	g.pollSleep()
	return nil
}

// handleTurnFailure counts the failure, blocks the task once the
// consecutive-failure ceiling is hit, and backs off exponentially.
func (g *Governor) handleTurnFailure(idx int, taskID string, turnErr error) error {
	g.consecutiveFailures++
	g.logger.Warn("turn failure",
		slog.String(log.TaskIDKey, taskID),
		slog.Int("consecutive_failures", g.consecutiveFailures),
		log.Error(turnErr))
	if err := g.store.AppendJournal("turn failure", fmt.Sprintf(
		"Task %s turn failed (consecutive failures=%d): %v", taskID, g.consecutiveFailures, turnErr)); err != nil {
		return err
	}

	if g.consecutiveFailures >= g.cfg.Recovery.MaxFailuresBeforeBlock {
		task := &g.run.Tasks[idx]
		reason := fmt.Sprintf("hit %d consecutive turn failures", g.consecutiveFailures)
		task.MarkBlocked(reason)
		if err := g.store.AppendJournal("task blocked after repeated failures", fmt.Sprintf(
			"Task %s hit %d consecutive turn failures and was marked blocked_best_effort.",
			task.ID, g.consecutiveFailures)); err != nil {
			return err
		}
		g.consecutiveFailures = 0
	}

	if err := g.store.Save(g.run); err != nil {
		return err
	}

	failures := g.consecutiveFailures
	if failures < 1 {
		failures = 1
	}
	g.sleep(time.Duration(ComputeBackoffSecs(g.cfg.Recovery, failures)) * time.Second)
	return nil
}

// pollSleep waits the configured poll interval, at least one second.
func (g *Governor) pollSleep() {
	secs := g.cfg.PollIntervalSecs
	if secs < 1 {
		secs = 1
	}
	g.sleep(time.Duration(secs) * time.Second)
}
