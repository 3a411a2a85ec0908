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
	"errors"
	"fmt"
)

// Process exit codes.
const (
	// CodeSuccess is returned when the demonstration completes.
	CodeSuccess = 0

	// CodeIO covers open, pipe, read, write and splice failures, short
	// transfers and operations issued out of order.
	CodeIO = 1

	// CodeMapping is returned when the target cannot be mapped at
	// MappingAddress with the requested protection.
	CodeMapping = 2

	// CodePipeSize is returned when the kernel does not honor PipeCapacity.
	CodePipeSize = 7
)

var (
	// ErrShortTransfer is returned when a read, write or splice moves fewer
	// bytes than requested.
	ErrShortTransfer = errors.New("short transfer")

	// ErrOutOfOrder is returned when an operation is issued in a state that
	// does not allow it, or after an earlier failure.
	ErrOutOfOrder = errors.New("operation out of order")

	// ErrMappingPlacement is returned when the kernel placed the mapping
	// somewhere other than MappingAddress.
	ErrMappingPlacement = errors.New("mapping not placed at requested address")

	// ErrPageSize is returned when the host page size is not PageSize.
	ErrPageSize = errors.New("unsupported page size")

	// ErrPipeSize is returned when F_SETPIPE_SZ does not yield PipeCapacity.
	ErrPipeSize = errors.New("pipe size not honored")

	// ErrPayloadTooLarge is returned when a payload does not fit in the
	// space left after the spliced range.
	ErrPayloadTooLarge = errors.New("payload exceeds remaining pipe capacity")

	// ErrTargetTooShort is returned when the target holds fewer than
	// SpliceLength bytes.
	ErrTargetTooShort = errors.New("target shorter than splice length")
)

// Error is returned by every Driver operation. It records where the
// demonstration stopped and the exit code the process should use.
type Error struct {
	// Op is the operation that failed.
	Op string

	// State is the driver state when the operation was issued.
	State State

	// Code is the process exit code for this failure.
	Code int

	// Err is the underlying error.
	Err error
}

// Error implements error.Error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (state %s): %v", e.Op, e.State, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode maps err to a process exit code. Errors not produced by the driver
// are treated as I/O failures.
func ExitCode(err error) int {
	if err == nil {
		return CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeIO
}

func shortTransfer(what string, got, want int) error {
	return fmt.Errorf("%w: %s moved %d of %d bytes", ErrShortTransfer, what, got, want)
}
