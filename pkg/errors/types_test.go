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

package errors

import (
	"strings"
	"testing"
)

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "roles.implementer", Message: "must set harness"}
	want := "validation failed on roles.implementer: must set harness"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &ValidationError{Message: "bad input"}
	if bare.Error() != "validation failed: bad input" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestConfigErrorUnwrap(t *testing.T) {
	cause := New("boom")
	err := &ConfigError{Key: "tasks", Reason: "broken", Cause: cause}
	if !Is(err, cause) {
		t.Error("ConfigError must unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "config error at tasks") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestLockErrorMessage(t *testing.T) {
	err := &LockError{Path: "/run/x/run.lock", Reason: "another overseer run may be active"}
	if !strings.Contains(err.Error(), "could not acquire lock /run/x/run.lock") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapNilPassthrough(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) must return nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) must return nil")
	}
}

func TestWrapAddsContext(t *testing.T) {
	cause := New("root")
	err := Wrap(cause, "loading file")
	if err.Error() != "loading file: root" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !Is(err, cause) {
		t.Error("wrapped error must match its cause")
	}
}
