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
	"strings"

	"github.com/tombee/overseer/internal/config"
	"github.com/tombee/overseer/internal/state"
)

// EscalateHandling is the governor's decision for an ESCALATE signal.
type EscalateHandling int

const (
	// EscalateIgnore means the control block carried no escalate signal,
	// or the run is attended.
	EscalateIgnore EscalateHandling = iota
	// EscalateRetry grants the task one more turn with the same prompt.
	EscalateRetry
	// EscalateBlock moves the task to blocked_best_effort.
	EscalateBlock
)

// DecideUnattendedEscalate consults policy when a control block reports
// ESCALATE (via next_action) or a blocked status. Runs only in unattended
// mode; everything else is ignored. best_effort_once burns the task's
// single retry before blocking.
func DecideUnattendedEscalate(unattended bool, policy config.EscalatePolicy, task *state.Task, controlStatus, nextAction string) EscalateHandling {
	if !unattended {
		return EscalateIgnore
	}

	actionEscalate := strings.EqualFold(nextAction, "ESCALATE")
	status := strings.TrimSpace(controlStatus)
	statusEscalate := strings.EqualFold(status, "blocked") || strings.EqualFold(status, "blocked_best_effort")
	if !actionEscalate && !statusEscalate {
		return EscalateIgnore
	}

	switch policy {
	case config.EscalateStrict:
		return EscalateBlock
	default:
		if task.UnattendedEscalateRetries == 0 {
			task.UnattendedEscalateRetries = 1
			return EscalateRetry
		}
		return EscalateBlock
	}
}

// ComputeBackoffSecs returns the failure backoff:
// min(max, initial * 2^(failures-1)), shift capped at 10, clamped to at
// least one second.
func ComputeBackoffSecs(recovery config.RecoveryConfig, failures int) int64 {
	shift := failures - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}
	raw := recovery.BackoffInitialSecs * (1 << shift)

	ceiling := recovery.BackoffMaxSecs
	if ceiling < 1 {
		ceiling = 1
	}
	if raw > ceiling {
		raw = ceiling
	}
	if raw < 1 {
		raw = 1
	}
	return raw
}
