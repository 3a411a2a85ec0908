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

// Package cli is the main entrypoint for dirtypipe.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/google/subcommands"

	"github.com/dirtypipe/dirtypipe/dirtypipe/cmd"
	"github.com/dirtypipe/dirtypipe/dirtypipe/config"
	"github.com/dirtypipe/dirtypipe/pkg/log"
)

// defaultCommand runs when no subcommand is given.
const defaultCommand = "run"

// Main is the main entrypoint.
func Main() {
	os.Exit(int(run(context.Background(), flag.CommandLine, os.Args[1:])))
}

func run(ctx context.Context, flagSet *flag.FlagSet, args []string) subcommands.ExitStatus {
	commander := subcommands.NewCommander(flagSet, "dirtypipe")
	forEachCmd(commander, commander.Register)

	// Register with the main command line.
	config.RegisterFlags(flagSet)

	// All subcommands must be registered before flag parsing.
	if err := flagSet.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}

	conf, err := config.NewFromFlags(flagSet)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	// Set up logging.
	log.SetTarget(log.NewLogrusEmitter(conf.LogFormat, &log.Writer{Next: os.Stderr}))
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	subcommand := flagSet.Arg(0)
	if subcommand == "" {
		subcommand = defaultCommand
		if err := flagSet.Parse(append(args, subcommand)); err != nil {
			return subcommands.ExitUsageError
		}
	}

	log.Debugf("dirtypipe %s, %s, PID %d, UID %d, GID %d", subcommand, runtime.Version(), os.Getpid(), os.Getuid(), os.Getgid())
	log.Debugf("Page size: 0x%x (%d bytes)", os.Getpagesize(), os.Getpagesize())
	if log.IsLogging(log.Debug) {
		conf.Log()
	}

	// Call the subcommand and pass in the configuration.
	status := commander.Execute(ctx, conf)
	if status != subcommands.ExitSuccess {
		log.Debugf("Exiting with status: %d", status)
	}
	return status
}

// forEachCmd invokes the passed callback for each command supported by
// dirtypipe.
func forEachCmd(commander *subcommands.Commander, cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(commander.HelpCommand(), "")
	cb(commander.FlagsCommand(), "")
	cb(commander.CommandsCommand(), "")

	cb(new(cmd.Run), "")
	cb(new(cmd.Check), "")
}
