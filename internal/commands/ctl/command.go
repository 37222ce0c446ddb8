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

// Package ctl implements read-side and operator commands against a run's
// state directory. Everything here reads committed snapshot generations;
// only note appends (to the journal, which has a single format owner).
package ctl

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tombee/overseer/internal/state"
	"github.com/tombee/overseer/pkg/errors"
)

// NewCommand creates the ctl command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Inspect or control a governor state dir",
	}
	cmd.AddCommand(newSnapshotCommand())
	cmd.AddCommand(newCanExitCommand())
	cmd.AddCommand(newNoteCommand())
	cmd.AddCommand(newWatchCommand())
	return cmd
}

func stateDirFlag(cmd *cobra.Command, stateDir *string) {
	cmd.Flags().StringVar(stateDir, "state-dir", "", "Governor state directory path")
	_ = cmd.MarkFlagRequired("state-dir")
}

func printSnapshot(cmd *cobra.Command, stateDir string) error {
	run, err := state.NewStore(stateDir).Load()
	if err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode run state")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}

func newSnapshotCommand() *cobra.Command {
	var stateDir string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print current run state JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSnapshot(cmd, stateDir)
		},
	}
	stateDirFlag(cmd, &stateDir)
	return cmd
}

func newCanExitCommand() *cobra.Command {
	var stateDir string
	cmd := &cobra.Command{
		Use:   "can-exit",
		Short: "Exit 0 if run is safe to stop; 1 otherwise",
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := state.NewStore(stateDir).Load()
			if err != nil {
				return err
			}
			if run.CanExit() {
				fmt.Fprintln(cmd.OutOrStdout(), "true")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "false")
			os.Exit(1)
			return nil
		},
	}
	stateDirFlag(cmd, &stateDir)
	return cmd
}

func newNoteCommand() *cobra.Command {
	var (
		stateDir string
		message  string
	)
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Append an operator note to the run journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.NewStore(stateDir).AppendJournal("operator note", message)
		},
	}
	stateDirFlag(cmd, &stateDir)
	cmd.Flags().StringVar(&message, "message", "", "Note text to append to journal")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newWatchCommand() *cobra.Command {
	var stateDir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-print the state snapshot whenever it changes",
		Long: `Watch blocks and prints the run state snapshot every time the
governor commits a new generation. Interrupt to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchSnapshot(cmd, stateDir)
		},
	}
	stateDirFlag(cmd, &stateDir)
	return cmd
}

func watchSnapshot(cmd *cobra.Command, stateDir string) error {
	if err := printSnapshot(cmd, stateDir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer watcher.Close()

	// Watch the directory, not the file: the snapshot is replaced by
	// rename, which retires the old inode on every save.
	if err := watcher.Add(stateDir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", stateDir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	statePath := filepath.Join(stateDir, state.StateName)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != statePath {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := printSnapshot(cmd, stateDir); err != nil {
				// A save may be mid-rename; the next event retries.
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return errors.Wrap(err, "watch failed")
		}
	}
}
