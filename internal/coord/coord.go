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

// Package coord reads the per-task coordination directory the agent
// writes to. Apart from creating the directory layout, the governor only
// reads here: the newest mtime is the task's liveness signal, state.md is
// its completion marker, and meta.env optionally asserts the expected
// reviewer quorum.
package coord

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tombee/overseer/internal/fsx"
)

// StateFile is the completion marker file name.
const StateFile = "state.md"

// MetaFile is the optional quorum assertion file name.
const MetaFile = "meta.env"

// Subdirs are the agent artifact directories probed for liveness.
var Subdirs = []string{"requests", "reviews", "decisions", "heartbeats"}

// EnsureLayout creates the coord dir and its heartbeats subdirectory.
func EnsureLayout(coordDir string) error {
	if err := fsx.EnsureDir(coordDir); err != nil {
		return err
	}
	return fsx.EnsureDir(filepath.Join(coordDir, "heartbeats"))
}

// LatestProgressEpoch returns the newest mtime in seconds across state.md
// and every entry inside the artifact subdirectories. The second return
// value is false when nothing observable exists yet.
func LatestProgressEpoch(coordDir string) (int64, bool) {
	var latest int64
	found := false

	if ts, ok := fsx.MtimeEpoch(filepath.Join(coordDir, StateFile)); ok {
		latest, found = ts, true
	}
	for _, sub := range Subdirs {
		for _, entry := range fsx.DirEntryPaths(filepath.Join(coordDir, sub)) {
			if ts, ok := fsx.MtimeEpoch(entry); ok {
				if !found || ts > latest {
					latest = ts
				}
				found = true
			}
		}
	}

	return latest, found
}

// Done reports whether the agent has marked the task complete: state.md
// exists and its trimmed content is exactly "done".
func Done(coordDir string) bool {
	data, err := os.ReadFile(filepath.Join(coordDir, StateFile))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "done"
}

// ReviewerCount returns the REVIEWER_COUNT declared in meta.env, if the
// file exists and carries a parseable value. Values like "2 reviewers"
// fall back to their digit run.
func ReviewerCount(coordDir string) (int, bool) {
	env, err := godotenv.Read(filepath.Join(coordDir, MetaFile))
	if err != nil {
		return 0, false
	}
	raw, ok := env["REVIEWER_COUNT"]
	if !ok {
		return 0, false
	}

	cleaned := strings.TrimSpace(raw)
	if value, err := strconv.Atoi(cleaned); err == nil {
		return value, true
	}

	var digits strings.Builder
	for _, r := range cleaned {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if value, err := strconv.Atoi(digits.String()); err == nil {
		return value, true
	}

	return 0, false
}
