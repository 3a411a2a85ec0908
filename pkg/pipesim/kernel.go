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

// Package pipesim is an in-memory model of the Linux pipe ring and page cache
// as implemented between 5.8 and the CVE-2022-0847 fix.
//
// It models only what the Dirty Pipe technique touches: pipe_buffer slots
// with their flags, anonymous pages for written data, page-cache pages
// referenced by splice, and shared read-only file mappings. A Kernel
// implements exploit.Host, so the demonstration can run against it on any
// machine. Kernel.Vulnerable selects whether splice clears stale buffer flags.
//
// Operations that would put the caller to sleep on a real kernel return
// ErrWouldBlock instead, since a single-threaded model has nobody to wake it.
package pipesim

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dirtypipe/dirtypipe/pkg/exploit"
)

// ErrWouldBlock is returned where a blocking descriptor would sleep.
var ErrWouldBlock = errors.New("operation would block")

// File is a regular file with a backing store and a page cache.
type File struct {
	// disk is the backing store. Page-cache corruption never reaches it
	// because the model has no writeback.
	disk []byte

	// cache holds the cached pages, at least one page long. Mappings and
	// page-cache pipe buffers alias it.
	cache []byte

	pages []*page
}

func newFile(content []byte) *File {
	n := (len(content) + PageSize - 1) / PageSize
	if n == 0 {
		n = 1
	}
	f := &File{
		disk:  append([]byte(nil), content...),
		cache: make([]byte, n*PageSize),
	}
	copy(f.cache, content)
	for i := 0; i < n; i++ {
		f.pages = append(f.pages, &page{data: f.cache[i*PageSize : (i+1)*PageSize], file: f})
	}
	return f
}

// Size returns the file size.
func (f *File) Size() int64 {
	return int64(len(f.disk))
}

// Disk returns a copy of the on-disk contents.
func (f *File) Disk() []byte {
	return append([]byte(nil), f.disk...)
}

// Cached returns a copy of the cached contents, up to the file size.
func (f *File) Cached() []byte {
	return append([]byte(nil), f.cache[:len(f.disk)]...)
}

// openFile is a descriptor for a regular file.
type openFile struct {
	file   *File
	offset int64
}

// pipeEnd is a descriptor for one end of a pipe.
type pipeEnd struct {
	pipe     *pipe
	read     bool
	nonblock bool
}

// Kernel is the simulated kernel. It is safe for concurrent use, but does not
// model blocking between callers.
type Kernel struct {
	// Vulnerable leaves pipe_buffer flags untouched when splice reuses a
	// slot, as kernels before the fix do.
	Vulnerable bool

	mu       sync.Mutex
	files    map[string]*File
	fds      map[int]any
	nextFD   int
	mappings map[uintptr]*Mapping

	// nextAddr is where mappings go when their hint is taken.
	nextAddr uintptr
}

// NewKernel returns a kernel with no files.
func NewKernel(vulnerable bool) *Kernel {
	return &Kernel{
		Vulnerable: vulnerable,
		files:      make(map[string]*File),
		fds:        make(map[int]any),
		nextFD:     3,
		mappings:   make(map[uintptr]*Mapping),
		nextAddr:   0x7f0000000000,
	}
}

var _ exploit.Host = (*Kernel)(nil)

// AddFile creates or replaces the file at path.
func (k *Kernel) AddFile(path string, content []byte) *File {
	k.mu.Lock()
	defer k.mu.Unlock()
	f := newFile(content)
	k.files[path] = f
	return f
}

// Lookup returns the file at path, or nil.
func (k *Kernel) Lookup(path string) *File {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.files[path]
}

// Reserve marks one page at addr as mapped, so later hints for it are not
// honored.
func (k *Kernel) Reserve(addr uintptr) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.mappings[addr] = &Mapping{addr: addr}
}

// PipeBuffers returns the ring slots of the pipe behind fd.
func (k *Kernel) PipeBuffers(fd int) ([]BufferInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	pe, err := k.pipeEndLocked(fd)
	if err != nil {
		return nil, err
	}
	return pe.pipe.info(), nil
}

// PipeString describes the pipe behind fd.
func (k *Kernel) PipeString(fd int) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	pe, err := k.pipeEndLocked(fd)
	if err != nil {
		return fmt.Sprintf("fd %d: %v", fd, err)
	}
	return pe.pipe.String()
}

// SetNonblock implements exploit.Host.SetNonblock.
func (k *Kernel) SetNonblock(fd int, nonblocking bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch d := k.fds[fd].(type) {
	case *pipeEnd:
		d.nonblock = nonblocking
		return nil
	case *openFile:
		return nil
	default:
		return unix.EBADF
	}
}

// PageSize implements exploit.Host.PageSize.
func (k *Kernel) PageSize() int {
	return PageSize
}

// OpenReadOnly implements exploit.Host.OpenReadOnly.
func (k *Kernel) OpenReadOnly(path string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	f, ok := k.files[path]
	if !ok {
		return -1, unix.ENOENT
	}
	return k.installLocked(&openFile{file: f}), nil
}

// FileSize implements exploit.Host.FileSize.
func (k *Kernel) FileSize(fd int) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	of, ok := k.fds[fd].(*openFile)
	if !ok {
		return 0, unix.EBADF
	}
	return of.file.Size(), nil
}

// MapShared implements exploit.Host.MapShared.
func (k *Kernel) MapShared(fd int, addr uintptr, length int) (exploit.Mapping, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	of, ok := k.fds[fd].(*openFile)
	if !ok {
		return nil, unix.EBADF
	}
	if length <= 0 || length%PageSize != 0 {
		return nil, unix.EINVAL
	}
	if length > len(of.file.cache) {
		// Touching pages wholly past EOF raises SIGBUS; refuse them here.
		return nil, unix.ENXIO
	}
	// A zero hint means the kernel picks the address.
	if _, taken := k.mappings[addr]; taken || addr == 0 || addr%PageSize != 0 {
		addr = k.nextAddr
		k.nextAddr += uintptr(length)
	}
	m := &Mapping{k: k, addr: addr, data: of.file.cache[:length:length]}
	k.mappings[addr] = m
	return m, nil
}

// Pipe implements exploit.Host.Pipe.
func (k *Kernel) Pipe() (int, int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p := newPipe()
	r := k.installLocked(&pipeEnd{pipe: p, read: true})
	w := k.installLocked(&pipeEnd{pipe: p})
	return r, w, nil
}

// SetPipeSize implements exploit.Host.SetPipeSize.
func (k *Kernel) SetPipeSize(fd, size int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	pe, err := k.pipeEndLocked(fd)
	if err != nil {
		return 0, err
	}
	return pe.pipe.setSize(size)
}

// Read implements exploit.Host.Read.
func (k *Kernel) Read(fd int, p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch d := k.fds[fd].(type) {
	case *pipeEnd:
		if !d.read {
			return 0, unix.EBADF
		}
		return d.pipe.read(p, d.nonblock)
	case *openFile:
		if d.offset >= d.file.Size() {
			return 0, nil
		}
		n := copy(p, d.file.cache[d.offset:d.file.Size()])
		d.offset += int64(n)
		return n, nil
	default:
		return 0, unix.EBADF
	}
}

// Write implements exploit.Host.Write. Regular files are only ever opened
// read-only, so writes to them fail.
func (k *Kernel) Write(fd int, p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	pe, ok := k.fds[fd].(*pipeEnd)
	if !ok || pe.read {
		return 0, unix.EBADF
	}
	return pe.pipe.write(p, pe.nonblock)
}

// Splice implements exploit.Host.Splice from a regular file into a pipe.
func (k *Kernel) Splice(in int, off *int64, out int, length int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	of, ok := k.fds[in].(*openFile)
	if !ok {
		return 0, unix.EINVAL
	}
	pe, ok := k.fds[out].(*pipeEnd)
	if !ok || pe.read {
		return 0, unix.EBADF
	}
	pos := of.offset
	if off != nil {
		pos = *off
	}
	if pos < 0 {
		return 0, unix.EINVAL
	}

	done := 0
	for done < length && pos < of.file.Size() {
		pg := of.file.pages[pos/PageSize]
		pgOff := int(pos % PageSize)
		n := min(length-done, PageSize-pgOff, int(of.file.Size()-pos))
		if _, err := pe.pipe.insertPage(pg, pgOff, n, !k.Vulnerable); err != nil {
			if done > 0 {
				break
			}
			if pe.nonblock {
				return 0, err
			}
			return 0, ErrWouldBlock
		}
		done += n
		pos += int64(n)
	}
	if off != nil {
		*off = pos
	} else {
		of.offset = pos
	}
	return done, nil
}

// Buffered implements exploit.Host.Buffered.
func (k *Kernel) Buffered(fd int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	pe, err := k.pipeEndLocked(fd)
	if err != nil {
		return 0, err
	}
	return pe.pipe.buffered(), nil
}

// Close implements exploit.Host.Close.
func (k *Kernel) Close(fd int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	d, ok := k.fds[fd]
	if !ok {
		return unix.EBADF
	}
	delete(k.fds, fd)
	if pe, ok := d.(*pipeEnd); ok {
		if pe.read {
			pe.pipe.readers--
		} else {
			pe.pipe.writers--
		}
	}
	return nil
}

func (k *Kernel) installLocked(d any) int {
	fd := k.nextFD
	k.nextFD++
	k.fds[fd] = d
	return fd
}

func (k *Kernel) pipeEndLocked(fd int) (*pipeEnd, error) {
	pe, ok := k.fds[fd].(*pipeEnd)
	if !ok {
		return nil, unix.EBADF
	}
	return pe, nil
}

// Mapping is a simulated shared mapping. It aliases the file's page cache.
type Mapping struct {
	k    *Kernel
	addr uintptr
	data []byte
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
	if m.k == nil || m.data == nil {
		return unix.EINVAL
	}
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	delete(m.k.mappings, m.addr)
	m.data = nil
	return nil
}
