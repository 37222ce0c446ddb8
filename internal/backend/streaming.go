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

package backend

import (
	"bufio"
	"io"
	"os/exec"
	"strings"
	"syscall"

	"github.com/tombee/overseer/pkg/errors"
)

// maxStdoutLine bounds a single streamed JSON line. Harness events can
// carry whole file diffs inline.
const maxStdoutLine = 4 * 1024 * 1024

// runStreaming spawns the command, writes the prompt to stdin (appending
// a trailing newline when missing) and closes it, drains stderr into a
// buffer concurrently, and invokes onLine for every non-empty trimmed
// stdout line. A non-zero exit becomes an error carrying the exit status
// and the collected stderr.
//
// The child is owned by this call: Wait runs on every path, so a child
// never outlives the turn that spawned it.
func runStreaming(cmd *exec.Cmd, prompt, name string, onLine func(line string) error) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrapf(err, "failed to open %s stdin", name)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrapf(err, "failed to open %s stdout", name)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrapf(err, "failed to open %s stderr", name)
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to spawn %s backend executable", name)
	}

	writeErr := writePrompt(stdin, prompt)
	if errors.Is(writeErr, syscall.EPIPE) {
		// The child closed stdin without reading the whole prompt; its
		// exit status decides whether the turn failed.
		writeErr = nil
	}

	stderrCh := make(chan string, 1)
	go func() {
		var buf strings.Builder
		_, _ = io.Copy(&buf, stderr)
		stderrCh <- buf.String()
	}()

	var lineErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxStdoutLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if lineErr = onLine(line); lineErr != nil {
			break
		}
	}
	if lineErr == nil {
		lineErr = errors.Wrapf(scanner.Err(), "failed reading %s stdout", name)
	}

	stderrText := <-stderrCh
	waitErr := cmd.Wait()

	if writeErr != nil {
		return errors.Wrapf(writeErr, "failed to write prompt to %s", name)
	}
	if lineErr != nil {
		return lineErr
	}
	if waitErr != nil {
		return errors.Wrapf(waitErr, "%s turn failed\nstderr:\n%s", name, stderrText)
	}
	return nil
}

// writePrompt sends the prompt once and closes the stream. An empty
// prompt closes stdin immediately (pi takes the prompt as an argument).
func writePrompt(stdin io.WriteCloser, prompt string) error {
	defer stdin.Close()
	if prompt == "" {
		return nil
	}
	if _, err := io.WriteString(stdin, prompt); err != nil {
		return err
	}
	if !strings.HasSuffix(prompt, "\n") {
		if _, err := io.WriteString(stdin, "\n"); err != nil {
			return err
		}
	}
	return nil
}
