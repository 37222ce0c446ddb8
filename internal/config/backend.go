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

package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	overseererrors "github.com/tombee/overseer/pkg/errors"
)

// Backend kind tags.
const (
	BackendCodex  = "codex"
	BackendClaude = "claude"
	BackendDroid  = "droid"
	BackendPi     = "pi"
	BackendMock   = "mock"
)

// BackendConfig is the tagged backend variant. Exactly one of the variant
// pointers is non-nil, matching Kind.
type BackendConfig struct {
	Kind   string
	Codex  *CodexBackend
	Claude *ClaudeBackend
	Droid  *DroidBackend
	Pi     *PiBackend
	Mock   *MockBackend
}

// CodexBackend configures the codex CLI harness.
type CodexBackend struct {
	Binary         string   `yaml:"binary"`
	Model          string   `yaml:"model"`
	Thinking       string   `yaml:"thinking"`
	ApprovalPolicy string   `yaml:"approval_policy"`
	SandboxMode    string   `yaml:"sandbox_mode"`
	ExtraArgs      []string `yaml:"extra_args"`
}

// ClaudeBackend configures the claude CLI harness.
type ClaudeBackend struct {
	Binary    string   `yaml:"binary"`
	Model     string   `yaml:"model"`
	Thinking  string   `yaml:"thinking"`
	ExtraArgs []string `yaml:"extra_args"`
}

// DroidBackend configures the droid CLI harness.
type DroidBackend struct {
	Binary    string   `yaml:"binary"`
	Model     string   `yaml:"model"`
	Thinking  string   `yaml:"thinking"`
	Auto      string   `yaml:"auto"`
	ExtraArgs []string `yaml:"extra_args"`
}

// PiBackend configures the pi CLI harness.
type PiBackend struct {
	Binary    string   `yaml:"binary"`
	Model     string   `yaml:"model"`
	Thinking  string   `yaml:"thinking"`
	Provider  string   `yaml:"provider"`
	ExtraArgs []string `yaml:"extra_args"`
}

// MockBackend is the deterministic in-process fixture used by tests.
type MockBackend struct {
	StepsPerTask int `yaml:"steps_per_task"`
}

// UnmarshalYAML decodes the tagged union: read kind, then decode the same
// node into the matching variant with its defaults pre-applied.
func (b *BackendConfig) UnmarshalYAML(node *yaml.Node) error {
	var probe struct {
		Kind string `yaml:"kind"`
	}
	if err := node.Decode(&probe); err != nil {
		return err
	}

	switch probe.Kind {
	case BackendCodex:
		variant := CodexBackend{Binary: "codex", ApprovalPolicy: "never", SandboxMode: "danger-full-access"}
		if err := node.Decode(&variant); err != nil {
			return err
		}
		*b = BackendConfig{Kind: probe.Kind, Codex: &variant}
	case BackendClaude:
		variant := ClaudeBackend{Binary: "claude"}
		if err := node.Decode(&variant); err != nil {
			return err
		}
		*b = BackendConfig{Kind: probe.Kind, Claude: &variant}
	case BackendDroid:
		variant := DroidBackend{Binary: "droid", Auto: "high"}
		if err := node.Decode(&variant); err != nil {
			return err
		}
		*b = BackendConfig{Kind: probe.Kind, Droid: &variant}
	case BackendPi:
		variant := PiBackend{Binary: "pi"}
		if err := node.Decode(&variant); err != nil {
			return err
		}
		*b = BackendConfig{Kind: probe.Kind, Pi: &variant}
	case BackendMock:
		variant := MockBackend{StepsPerTask: 2}
		if err := node.Decode(&variant); err != nil {
			return err
		}
		*b = BackendConfig{Kind: probe.Kind, Mock: &variant}
	case "":
		return &overseererrors.ConfigError{Key: "backend.kind", Reason: "must be set"}
	default:
		return &overseererrors.ConfigError{
			Key:    "backend.kind",
			Reason: fmt.Sprintf("unknown backend kind %q (want codex, claude, droid, pi, or mock)", probe.Kind),
		}
	}

	return nil
}
