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

// Package cmd holds implementations of the dirtypipe commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/dirtypipe/dirtypipe/pkg/log"
)

// ErrorLogger receives failure messages in addition to the log. Defaults to
// stderr.
var ErrorLogger io.Writer = os.Stderr

// Errorf logs the error, writes it to ErrorLogger, and returns status.
func Errorf(status subcommands.ExitStatus, format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintln(ErrorLogger, msg)
	return status
}

