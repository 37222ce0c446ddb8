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

// Package config loads and validates the governor's declarative run
// configuration and the reusable team presets.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	overseererrors "github.com/tombee/overseer/pkg/errors"
)

// Required skip-permission launch args per harness. The governor runs
// unattended; a backend that stops for an interactive permission prompt
// would hang the run, so these are mandatory at validation time.
const (
	RequiredCodexArg  = "--yolo"
	RequiredClaudeArg = "--dangerously-skip-permissions"
)

// EscalatePolicy controls how an agent's ESCALATE signal is handled in
// unattended mode.
type EscalatePolicy string

const (
	// EscalateStrict blocks the task immediately on the first escalate.
	EscalateStrict EscalatePolicy = "strict"
	// EscalateBestEffortOnce retries the task once before blocking.
	EscalateBestEffortOnce EscalatePolicy = "best_effort_once"
)

// Config is the complete governor run configuration.
type Config struct {
	RunID            string         `yaml:"run_id,omitempty"`
	Workspace        string         `yaml:"workspace"`
	StateDir         string         `yaml:"state_dir"`
	Unattended       bool           `yaml:"unattended"`
	PollIntervalSecs int64          `yaml:"poll_interval_secs"`
	Timeouts         TimeoutsConfig `yaml:"timeouts"`
	Recovery         RecoveryConfig `yaml:"recovery"`
	Policy           PolicyConfig   `yaml:"policy"`
	Backend          BackendConfig  `yaml:"backend"`
	Roles            RolesConfig    `yaml:"roles"`
	Tasks            []TaskConfig   `yaml:"tasks"`
}

// TimeoutsConfig holds the stall detection threshold.
type TimeoutsConfig struct {
	StallSecs int64 `yaml:"stall_secs"`
}

// RecoveryConfig holds the stall/failure recovery parameters.
type RecoveryConfig struct {
	MaxRecoveryAttemptsPerTask int   `yaml:"max_recovery_attempts_per_task"`
	MaxFailuresBeforeBlock     int   `yaml:"max_failures_before_block"`
	BackoffInitialSecs         int64 `yaml:"backoff_initial_secs"`
	BackoffMaxSecs             int64 `yaml:"backoff_max_secs"`
}

// PolicyConfig holds the unattended policy knobs.
type PolicyConfig struct {
	UnattendedEscalate EscalatePolicy `yaml:"unattended_escalate"`
}

// RolesConfig binds the three seats the prompt advertises to the agent.
type RolesConfig struct {
	Implementer Role `yaml:"implementer"`
	Reviewer1   Role `yaml:"reviewer_1"`
	Reviewer2   Role `yaml:"reviewer_2"`
}

// Role is one named seat: a harness, a model, a thinking effort, and the
// argv the agent should use when launching that harness.
type Role struct {
	Harness    string   `yaml:"harness"`
	Model      string   `yaml:"model"`
	Thinking   string   `yaml:"thinking"`
	LaunchArgs []string `yaml:"launch_args"`
}

// TaskConfig is one unit of work in the dependency-ordered task list.
type TaskConfig struct {
	ID             string   `yaml:"id"`
	TodoFile       string   `yaml:"todo_file"`
	DependsOn      []string `yaml:"depends_on,omitempty"`
	CoordDir       string   `yaml:"coord_dir,omitempty"`
	CompletionFile string   `yaml:"completion_file,omitempty"`
}

// Default returns a Config with every optional knob at its default.
// YAML decoding overlays the document on top of these values.
func Default() Config {
	return Config{
		Unattended:       true,
		PollIntervalSecs: 30,
		Timeouts:         TimeoutsConfig{StallSecs: 900},
		Recovery: RecoveryConfig{
			MaxRecoveryAttemptsPerTask: 4,
			MaxFailuresBeforeBlock:     6,
			BackoffInitialSecs:         5,
			BackoffMaxSecs:             120,
		},
		Policy: PolicyConfig{UnattendedEscalate: EscalateBestEffortOnce},
	}
}

// Load reads, parses, and validates a run configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, overseererrors.Wrapf(err, "failed to read config %s", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, overseererrors.Wrapf(err, "failed to parse %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UnmarshalYAML applies document values over the defaults so absent keys
// keep their defaulted values.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type plain Config
	out := plain(*c)
	if err := node.Decode(&out); err != nil {
		return err
	}
	*c = Config(out)
	return nil
}

// Validate checks the structural invariants the governor depends on:
// non-empty unique task ids, resolvable acyclic dependencies, a known
// backend, and a known escalate policy. Role validation is separate so
// team presets can be checked on their own.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace) == "" {
		return &overseererrors.ConfigError{Key: "workspace", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.StateDir) == "" {
		return &overseererrors.ConfigError{Key: "state_dir", Reason: "must not be empty"}
	}
	switch c.Policy.UnattendedEscalate {
	case EscalateStrict, EscalateBestEffortOnce:
	default:
		return &overseererrors.ConfigError{
			Key:    "policy.unattended_escalate",
			Reason: fmt.Sprintf("unknown policy %q (want strict or best_effort_once)", c.Policy.UnattendedEscalate),
		}
	}
	if c.Backend.Kind == "" {
		return &overseererrors.ConfigError{Key: "backend.kind", Reason: "must be set"}
	}

	if len(c.Tasks) == 0 {
		return &overseererrors.ConfigError{Key: "tasks", Reason: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(c.Tasks))
	for _, task := range c.Tasks {
		if strings.TrimSpace(task.ID) == "" {
			return &overseererrors.ConfigError{Key: "tasks", Reason: "task id must not be empty"}
		}
		if _, dup := seen[task.ID]; dup {
			return &overseererrors.ConfigError{Key: "tasks", Reason: fmt.Sprintf("duplicate task id %q", task.ID)}
		}
		seen[task.ID] = struct{}{}
	}
	for _, task := range c.Tasks {
		for _, dep := range task.DependsOn {
			if _, ok := seen[dep]; !ok {
				return &overseererrors.ConfigError{
					Key:    "tasks",
					Reason: fmt.Sprintf("task %q depends on unknown task %q", task.ID, dep),
				}
			}
		}
	}
	if cycle := dependencyCycle(c.Tasks); len(cycle) > 0 {
		return &overseererrors.ConfigError{
			Key:    "tasks",
			Reason: fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
		}
	}

	return nil
}

// dependencyCycle returns the members of one dependency cycle, or nil.
func dependencyCycle(tasks []TaskConfig) []string {
	deps := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		deps[task.ID] = task.DependsOn
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var stack []string
	var found []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case grey:
				// Cut the stack back to where the cycle entered.
				for i, member := range stack {
					if member == dep {
						found = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, task := range tasks {
		if color[task.ID] == white && visit(task.ID) {
			return found
		}
	}
	return nil
}

// RequiredLaunchArg returns the mandatory skip-permission flag for a
// harness, if it has one.
func RequiredLaunchArg(harness string) (string, bool) {
	switch harness {
	case "codex":
		return RequiredCodexArg, true
	case "claude":
		return RequiredClaudeArg, true
	default:
		return "", false
	}
}

// ValidateRole checks one role's required fields and launch args.
func ValidateRole(name string, role Role) error {
	if strings.TrimSpace(role.Harness) == "" {
		return &overseererrors.ValidationError{Field: "roles." + name, Message: "must set harness"}
	}
	if strings.TrimSpace(role.Model) == "" {
		return &overseererrors.ValidationError{Field: "roles." + name, Message: "must set model"}
	}
	if strings.TrimSpace(role.Thinking) == "" {
		return &overseererrors.ValidationError{Field: "roles." + name, Message: "must set thinking"}
	}

	if required, ok := RequiredLaunchArg(role.Harness); ok {
		has := false
		for _, arg := range role.LaunchArgs {
			if arg == required {
				has = true
				break
			}
		}
		if !has {
			return &overseererrors.ValidationError{
				Field:      "roles." + name,
				Message:    fmt.Sprintf("harness %s must include launch arg %q", role.Harness, required),
				Suggestion: fmt.Sprintf("add %q to launch_args", required),
			}
		}
	}

	return nil
}

// ValidateRoles checks every configured seat.
func ValidateRoles(roles RolesConfig) error {
	if err := ValidateRole("implementer", roles.Implementer); err != nil {
		return err
	}
	if err := ValidateRole("reviewer_1", roles.Reviewer1); err != nil {
		return err
	}
	return ValidateRole("reviewer_2", roles.Reviewer2)
}

// ReviewerQuorum counts the configured reviewer seats. A reviewer counts
// iff its harness is non-empty; the quorum is never below 1.
func ReviewerQuorum(roles RolesConfig) int {
	count := 0
	if strings.TrimSpace(roles.Reviewer1.Harness) != "" {
		count++
	}
	if strings.TrimSpace(roles.Reviewer2.Harness) != "" {
		count++
	}
	if count < 1 {
		count = 1
	}
	return count
}
