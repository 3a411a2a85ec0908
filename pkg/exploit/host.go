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

// Host issues the system calls the driver needs. Each method corresponds to
// one system call and reports the raw result; policy (exact sizes, placement)
// is enforced by the driver.
type Host interface {
	// PageSize returns the host page size.
	PageSize() int

	// OpenReadOnly opens path with O_RDONLY.
	OpenReadOnly(path string) (int, error)

	// FileSize returns the size of the file behind fd.
	FileSize(fd int) (int64, error)

	// MapShared maps length bytes of fd from offset 0 with PROT_READ and
	// MAP_SHARED, using addr as a placement hint.
	MapShared(fd int, addr uintptr, length int) (Mapping, error)

	// Pipe creates a pipe and returns its read and write ends.
	Pipe() (r, w int, err error)

	// SetPipeSize issues F_SETPIPE_SZ and returns the size the kernel chose.
	SetPipeSize(fd, size int) (int, error)

	// Read reads from fd into p.
	Read(fd int, p []byte) (int, error)

	// Write writes p to fd.
	Write(fd int, p []byte) (int, error)

	// Splice moves length bytes from in at *off to out.
	Splice(in int, off *int64, out int, length int) (int, error)

	// SetNonblock sets or clears O_NONBLOCK on fd.
	SetNonblock(fd int, nonblocking bool) error

	// Buffered returns the number of bytes queued in a pipe (FIONREAD).
	Buffered(fd int) (int, error)

	// Close closes fd.
	Close(fd int) error
}

// Mapping is a read-only view of mapped file pages.
type Mapping interface {
	// Addr returns the address the kernel placed the mapping at.
	Addr() uintptr

	// Bytes returns the mapped memory. The slice aliases the page cache and
	// must not be written to.
	Bytes() []byte

	// Release unmaps the memory. Bytes must not be used afterwards.
	Release() error
}
