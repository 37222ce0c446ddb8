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

// Package lock implements the single-writer advisory lock over a run's
// state directory. The marker file records the holder's pid; a stale
// marker left by a dead process is reclaimed on a single retry.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tombee/overseer/internal/fsx"
	"github.com/tombee/overseer/pkg/errors"
)

// MarkerName is the lock marker file name inside the state directory.
const MarkerName = "run.lock"

// Guard holds the acquired lock until Release is called.
// Release is idempotent and safe to defer on every exit path.
type Guard struct {
	path    string
	release sync.Once
}

// Acquire takes the single-writer lock for stateDir.
//
// The marker is created with O_EXCL so exactly one process wins. On
// contention the existing marker's pid is probed: a dead holder is
// reclaimed once, a live (or unprovable) holder fails acquisition.
func Acquire(stateDir string) (*Guard, error) {
	if err := fsx.EnsureDir(stateDir); err != nil {
		return nil, err
	}
	path := filepath.Join(stateDir, MarkerName)

	f, err := createMarker(path)
	if os.IsExist(err) {
		reclaimed, breakErr := tryBreakStaleLock(path)
		if breakErr != nil {
			return nil, breakErr
		}
		if !reclaimed {
			return nil, &errors.LockError{Path: path, Reason: "another overseer run may be active"}
		}
		f, err = createMarker(path)
		if err != nil {
			return nil, &errors.LockError{Path: path, Reason: "after removing stale lock", Cause: err}
		}
	} else if err != nil {
		return nil, &errors.LockError{Path: path, Reason: "create failed", Cause: err}
	}

	_, err = fmt.Fprintf(f, "pid=%d\ntoken=%s\n", os.Getpid(), uuid.NewString())
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, &errors.LockError{Path: path, Reason: "write failed", Cause: err}
	}

	return &Guard{path: path}, nil
}

// Release removes the lock marker. Safe to call more than once.
func (g *Guard) Release() {
	g.release.Do(func() {
		os.Remove(g.path)
	})
}

// Path returns the marker file path.
func (g *Guard) Path() string {
	return g.path
}

func createMarker(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

// holderPID extracts the pid= line from an existing marker.
func holderPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		raw, ok := strings.CutPrefix(line, "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}

// tryBreakStaleLock removes the marker if its recorded holder is provably
// dead. A marker without a parseable pid, or one whose holder may still be
// alive, is left in place.
func tryBreakStaleLock(path string) (bool, error) {
	pid, ok := holderPID(path)
	if !ok {
		return false, nil
	}
	if processAlive(pid) {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "failed to remove stale lock %s", path)
	}
	return true, nil
}
