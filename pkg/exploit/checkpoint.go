// Copyright 2026 The dirtypipe Authors.
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

package exploit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// Stage identifies a point where the demonstration can be paused to inspect
// kernel state, e.g. with a debugger attached to the kernel.
type Stage int

// Stages, in the order they are reached.
const (
	// BeforePipeCreate is reached before pipe(2); a fresh pipe_inode_info
	// can be observed right after it.
	BeforePipeCreate Stage = iota

	// BeforeFirstWrite is reached before the first fill write initializes
	// the pipe_buffer.
	BeforeFirstWrite

	// BeforeLastWrite is reached before the last fill write appends to a
	// mergeable pipe_buffer.
	BeforeLastWrite

	// BeforeLastRead is reached before the read that empties the pipe and
	// releases its anonymous page.
	BeforeLastRead

	// BeforeSplice is reached before the target is spliced into the pipe.
	BeforeSplice

	// BeforeCorruptingWrite is reached before the payload is written.
	BeforeCorruptingWrite
)

var stageMessages = map[Stage]string{
	BeforePipeCreate:      "About to create pipe()",
	BeforeFirstWrite:      "About to perform first write() to pipe",
	BeforeLastWrite:       "About to perform last write() to pipe",
	BeforeLastRead:        "About to perform last read() from pipe",
	BeforeSplice:          "About to splice() file to pipe",
	BeforeCorruptingWrite: "About to write() into page cache",
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	if msg, ok := stageMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Checkpoint is invoked at every Stage. Returning an error aborts the
// demonstration.
type Checkpoint func(ctx context.Context, stage Stage) error

// NopCheckpoint continues immediately.
func NopCheckpoint(context.Context, Stage) error {
	return nil
}

// ConsoleCheckpoint prints the stage to out and waits for a line on in. End of
// input is not an error: every later checkpoint then continues immediately.
func ConsoleCheckpoint(in io.Reader, out io.Writer) Checkpoint {
	r := bufio.NewReader(in)
	return func(ctx context.Context, stage Stage) error {
		if _, err := fmt.Fprintln(out, stage); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading console: %w", err)
		}
		return nil
	}
}

// State is the position of the driver in the demonstration.
type State int

// States, in the order they are reached. There are no backward transitions.
const (
	Init State = iota
	TargetMapped
	PipeCreated
	PipeSaturated
	PipeDrained
	Spliced
	Corrupted
	Done
)

var stateNames = [...]string{
	Init:          "Init",
	TargetMapped:  "TargetMapped",
	PipeCreated:   "PipeCreated",
	PipeSaturated: "PipeSaturated",
	PipeDrained:   "PipeDrained",
	Spliced:       "Spliced",
	Corrupted:     "Corrupted",
	Done:          "Done",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}
