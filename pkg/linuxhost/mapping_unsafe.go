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

//go:build linux

package linuxhost

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mapping is a shared read-only file mapping. Bytes aliases the page cache:
// stores through it fault.
type Mapping struct {
	addr   uintptr
	length int
	data   []byte
}

// mapShared maps length bytes of fd with addr as a hint. MAP_FIXED is not
// used, so an occupied hint yields a mapping elsewhere rather than clobbering
// what is there; the caller decides whether that is acceptable.
//
// The raw syscall passes the hint as an integer; it never refers to Go memory.
func mapShared(fd int, addr uintptr, length int) (*Mapping, error) {
	r0, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length),
		unix.PROT_READ, unix.MAP_SHARED, uintptr(fd), 0)
	if errno != 0 {
		return nil, errno
	}
	return &Mapping{
		addr:   r0,
		length: length,
		// r0 is memory the kernel just mapped, outside the Go heap.
		data: unsafe.Slice((*byte)(unsafe.Pointer(r0)), length),
	}, nil
}

// Addr implements exploit.Mapping.Addr.
func (m *Mapping) Addr() uintptr {
	return m.addr
}

// Bytes implements exploit.Mapping.Bytes.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Release implements exploit.Mapping.Release.
func (m *Mapping) Release() error {
	if m.data == nil {
		return unix.EINVAL
	}
	if err := unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(m.data)), uintptr(m.length)); err != nil {
		return err
	}
	m.data = nil
	return nil
}
