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

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/overseer/internal/fsx"
	"github.com/tombee/overseer/pkg/errors"
)

// On-disk artifact names under the state directory.
const (
	StateName   = "state.json"
	JournalName = "JOURNAL.md"
	SummaryName = "run-summary.json"
	LogsDirName = "logs"
	EventsName  = "orchestrator.events.jsonl"
	TurnsName   = "orchestrator.turns.log"
)

// DefaultEventFieldCap is the truncation cap, in characters, applied to
// output-carrying string fields before event-log lines are appended.
const DefaultEventFieldCap = 1200

// truncatedEventFields are the field names truncated at any nesting depth.
var truncatedEventFields = []string{"aggregated_output", "stdout", "stderr"}

// Store owns the on-disk artifacts under one state directory. The governor
// writes under the run lock; `ctl note` appends to the journal without
// taking it. External readers only ever see committed snapshot
// generations because the snapshot is replaced by rename.
type Store struct {
	StateDir string

	// EventFieldCap bounds output fields in event-log lines.
	// Zero means DefaultEventFieldCap.
	EventFieldCap int
}

// NewStore returns a Store for the given state directory.
func NewStore(stateDir string) *Store {
	return &Store{StateDir: stateDir}
}

// StatePath returns the snapshot path.
func (s *Store) StatePath() string { return filepath.Join(s.StateDir, StateName) }

// JournalPath returns the human journal path.
func (s *Store) JournalPath() string { return filepath.Join(s.StateDir, JournalName) }

// SummaryPath returns the run summary path.
func (s *Store) SummaryPath() string { return filepath.Join(s.StateDir, SummaryName) }

// EventsLogPath returns the machine event log path.
func (s *Store) EventsLogPath() string { return filepath.Join(s.StateDir, LogsDirName, EventsName) }

// TurnsLogPath returns the turn log path.
func (s *Store) TurnsLogPath() string { return filepath.Join(s.StateDir, LogsDirName, TurnsName) }

// CoordRoot returns the default coord directory root.
func (s *Store) CoordRoot() string { return filepath.Join(s.StateDir, "coord") }

// EnsureLayout creates the state, logs, and coord directories, touches
// the log files so tailers never fail on absence, and seeds the journal
// header on first boot.
func (s *Store) EnsureLayout() error {
	for _, dir := range []string{s.StateDir, filepath.Join(s.StateDir, LogsDirName), s.CoordRoot()} {
		if err := fsx.EnsureDir(dir); err != nil {
			return err
		}
	}
	for _, path := range []string{s.EventsLogPath(), s.TurnsLogPath()} {
		if err := fsx.Touch(path); err != nil {
			return err
		}
	}

	journal := s.JournalPath()
	if _, err := os.Stat(journal); os.IsNotExist(err) {
		header := "# JOURNAL\n\nRun journal for unattended orchestration. Blockers are recorded here instead of stopping the run.\n"
		if err := os.WriteFile(journal, []byte(header), 0o644); err != nil {
			return errors.Wrapf(err, "failed to create %s", journal)
		}
	}
	return nil
}

// Exists reports whether a state snapshot is already on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.StatePath())
	return err == nil
}

// Load reads and decodes the state snapshot.
func (s *Store) Load() (*Run, error) {
	data, err := os.ReadFile(s.StatePath())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read state under %s", s.StateDir)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", s.StatePath())
	}
	return &run, nil
}

// Save bumps updated_at and atomically replaces the snapshot.
func (s *Store) Save(run *Run) error {
	run.UpdatedAt = fsx.NowISO()
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode run state")
	}
	return fsx.WriteFileAtomic(s.StatePath(), data)
}

// AppendJournal appends one titled block to the human journal.
func (s *Store) AppendJournal(title, body string) error {
	return fsx.AppendText(s.JournalPath(), fmt.Sprintf("\n## %s\n**%s**\n%s\n", fsx.NowISO(), title, body))
}

// AppendEventLine appends one backend stdout line to the event log.
// Parseable JSON has its output fields truncated first; anything else is
// written verbatim.
func (s *Store) AppendEventLine(raw string) error {
	rendered := raw
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		s.sanitizeEventValue(&value)
		if encoded, err := json.Marshal(value); err == nil {
			rendered = string(encoded)
		}
	}
	return fsx.AppendText(s.EventsLogPath(), rendered+"\n")
}

// LogTurn appends one prompt/response block to the turn log.
func (s *Store) LogTurn(cycle uint64, prompt, response string) error {
	block := fmt.Sprintf("\n===== TURN %d @ %s =====\n--- PROMPT ---\n%s", cycle, fsx.NowISO(), prompt)
	if len(prompt) == 0 || prompt[len(prompt)-1] != '\n' {
		block += "\n"
	}
	block += "--- RESPONSE ---\n" + response
	if len(response) == 0 || response[len(response)-1] != '\n' {
		block += "\n"
	}
	return fsx.AppendText(s.TurnsLogPath(), block)
}

func (s *Store) fieldCap() int {
	if s.EventFieldCap > 0 {
		return s.EventFieldCap
	}
	return DefaultEventFieldCap
}

// sanitizeEventValue truncates output-carrying string fields at any depth.
func (s *Store) sanitizeEventValue(value *any) {
	switch v := (*value).(type) {
	case map[string]any:
		for _, key := range truncatedEventFields {
			if text, ok := v[key].(string); ok {
				v[key] = truncateChars(text, s.fieldCap())
			}
		}
		for key := range v {
			nested := v[key]
			s.sanitizeEventValue(&nested)
			v[key] = nested
		}
	case []any:
		for i := range v {
			s.sanitizeEventValue(&v[i])
		}
	}
}

// truncateChars shortens text to max characters and annotates the count
// of elided characters. Shorter text passes through unchanged.
func truncateChars(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return fmt.Sprintf("%s\n...[truncated %d chars]", string(runes[:max]), len(runes)-max)
}

// Summary is the machine-readable digest written once on terminate.
type Summary struct {
	RunID                    string         `json:"run_id"`
	Status                   RunStatus      `json:"status"`
	Cycle                    uint64         `json:"cycle"`
	StartedAt                string         `json:"started_at"`
	FinishedAt               string         `json:"finished_at"`
	ThreadID                 string         `json:"thread_id,omitempty"`
	Unattended               bool           `json:"unattended"`
	UnattendedEscalatePolicy string         `json:"unattended_escalate_policy"`
	TasksTotal               int            `json:"tasks_total"`
	TasksCompleted           int            `json:"tasks_completed"`
	TasksBlocked             int            `json:"tasks_blocked"`
	BlockedTasks             []BlockedTask  `json:"blocked_tasks"`
}

// BlockedTask names one blocked task and why it was given up on.
type BlockedTask struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// WriteSummary writes the final run-summary.json.
func (s *Store) WriteSummary(run *Run, policy string) error {
	summary := Summary{
		RunID:                    run.RunID,
		Status:                   run.Status,
		Cycle:                    run.Cycle,
		StartedAt:                run.StartedAt,
		FinishedAt:               run.UpdatedAt,
		ThreadID:                 run.ThreadID,
		Unattended:               run.Unattended,
		UnattendedEscalatePolicy: policy,
		BlockedTasks:             []BlockedTask{},
	}
	summary.TasksTotal = len(run.Tasks)
	for i := range run.Tasks {
		switch run.Tasks[i].Status {
		case TaskCompleted:
			summary.TasksCompleted++
		case TaskBlockedBestEffort:
			summary.TasksBlocked++
			summary.BlockedTasks = append(summary.BlockedTasks, BlockedTask{
				ID:     run.Tasks[i].ID,
				Reason: run.Tasks[i].BlockedReason,
			})
		}
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode run summary")
	}
	return fsx.WriteFileAtomic(s.SummaryPath(), data)
}
