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

// Package fsx provides the small filesystem primitives shared by the
// persistence and coordination layers: directory creation, atomic file
// replacement, append-only writes, and mtime probing.
package fsx

import (
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/overseer/pkg/errors"
)

// EnsureDir creates the directory and any missing parents.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	return nil
}

// WriteFileAtomic writes data to path via a sibling temp file and rename,
// so readers never observe a partial write.
func WriteFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to move %s to %s", tmp, path)
	}
	return nil
}

// AppendText appends text to the file at path, creating it if absent.
func AppendText(path, text string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return errors.Wrapf(err, "failed to append to %s", path)
	}
	return nil
}

// Touch creates an empty file at path if one does not already exist.
// Existing files are left untouched.
func Touch(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	return f.Close()
}

// MtimeEpoch returns the file's modification time as Unix seconds.
// The second return value is false if the file cannot be stat'ed.
func MtimeEpoch(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.ModTime().Unix(), true
}

// NowISO returns the current wall-clock time in RFC 3339 format with
// second precision, the timestamp format used across the state dir.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NowEpoch returns the current wall-clock time as Unix seconds.
func NowEpoch() int64 {
	return time.Now().Unix()
}

// DirEntryPaths returns the full paths of the entries directly inside dir.
// A missing or unreadable directory yields an empty slice.
func DirEntryPaths(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths
}
