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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/dirtypipe/dirtypipe/pkg/kernelcheck"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	format string

	// Report returns the report to print. Defaults to kernelcheck.Check.
	Report func() (kernelcheck.Report, error)

	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "report whether the running kernel is in the CVE-2022-0847 window"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] - print the kernel release, its status and whether the
process holds CAP_DAC_OVERRIDE. Nothing is written.

The status is based on the upstream version. Distribution kernels may carry
the fix under an older version number.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "format", "text", "output format: text or json.")
}

type checkOutput struct {
	Release     string `json:"release"`
	Version     string `json:"version"`
	Status      string `json:"status"`
	DACOverride bool   `json:"dac_override"`
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	check := c.Report
	if check == nil {
		check = kernelcheck.Check
	}
	var out io.Writer = os.Stdout
	if c.Stdout != nil {
		out = c.Stdout
	}

	report, err := check()
	if err != nil {
		return Errorf(subcommands.ExitFailure, "checking kernel: %v", err)
	}
	co := checkOutput{
		Release:     report.Release,
		Version:     report.Version.String(),
		Status:      report.Status.String(),
		DACOverride: report.DACOverride,
	}

	switch c.format {
	case "text":
		fmt.Fprintf(out, "Release:          %s\n", co.Release)
		fmt.Fprintf(out, "Version:          %s\n", co.Version)
		fmt.Fprintf(out, "Status:           %s\n", co.Status)
		fmt.Fprintf(out, "CAP_DAC_OVERRIDE: %t\n", co.DACOverride)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(co); err != nil {
			return Errorf(subcommands.ExitFailure, "encoding report: %v", err)
		}
	default:
		return Errorf(subcommands.ExitUsageError, "invalid format %q, must be 'text' or 'json'", c.format)
	}
	return subcommands.ExitSuccess
}
