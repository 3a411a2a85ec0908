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

package pipesim

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// PageSize is the size of a simulated page.
	PageSize = 4096

	// DefaultPipeSize is the size of a new pipe in bytes.
	DefaultPipeSize = 16 * PageSize

	// MaximumPipeSize is the largest size an unprivileged process may set,
	// the default of /proc/sys/fs/pipe-max-size.
	MaximumPipeSize = 1048576
)

// Flags are pipe_buffer flags.
type Flags uint32

// Flag values match include/linux/pipe_fs_i.h.
const (
	FlagLRU      Flags = 0x01
	FlagAtomic   Flags = 0x02
	FlagGift     Flags = 0x04
	FlagPacket   Flags = 0x08
	FlagCanMerge Flags = 0x10
	FlagWhole    Flags = 0x20
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagLRU, "PIPE_BUF_FLAG_LRU"},
	{FlagAtomic, "PIPE_BUF_FLAG_ATOMIC"},
	{FlagGift, "PIPE_BUF_FLAG_GIFT"},
	{FlagPacket, "PIPE_BUF_FLAG_PACKET"},
	{FlagCanMerge, "PIPE_BUF_FLAG_CAN_MERGE"},
	{FlagWhole, "PIPE_BUF_FLAG_WHOLE"},
}

// String returns the set flags joined with " | ".
func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, " | ")
}

// page is a page of memory. Page-cache pages alias their file's cache.
type page struct {
	data []byte

	// file is set for page-cache pages.
	file *File
}

func newAnonPage() *page {
	return &page{data: make([]byte, PageSize)}
}

// buffer is a pipe_buffer.
type buffer struct {
	page   *page
	offset int
	len    int
	flags  Flags
}

// BufferInfo describes one ring slot.
type BufferInfo struct {
	// Occupied is true if the slot is between tail and head.
	Occupied bool

	// PageCache is true if the slot references a file page rather than an
	// anonymous page.
	PageCache bool

	Offset int
	Len    int
	Flags  Flags
}

// pipe is a pipe_inode_info: a ring of buffers indexed by free-running head
// and tail counters.
type pipe struct {
	bufs    []buffer
	head    uint
	tail    uint
	readers int
	writers int
}

func newPipe() *pipe {
	return &pipe{
		bufs:    make([]buffer, DefaultPipeSize/PageSize),
		readers: 1,
		writers: 1,
	}
}

func (p *pipe) mask() uint {
	return uint(len(p.bufs)) - 1
}

func (p *pipe) occupancy() uint {
	return p.head - p.tail
}

func (p *pipe) empty() bool {
	return p.head == p.tail
}

func (p *pipe) full() bool {
	return p.occupancy() >= uint(len(p.bufs))
}

// buffered returns the number of bytes queued.
func (p *pipe) buffered() int {
	n := 0
	for i := p.tail; i != p.head; i++ {
		n += p.bufs[i&p.mask()].len
	}
	return n
}

// setSize implements F_SETPIPE_SZ: the size is rounded up to a power of two
// number of pages.
func (p *pipe) setSize(size int) (int, error) {
	if size <= 0 {
		return 0, unix.EINVAL
	}
	if size > MaximumPipeSize {
		return 0, unix.EPERM
	}
	slots := 1
	for slots*PageSize < size {
		slots <<= 1
	}
	if uint(slots) < p.occupancy() {
		return 0, unix.EBUSY
	}
	if slots == len(p.bufs) {
		return slots * PageSize, nil
	}

	// Copy occupied slots to the front of the new ring. Unoccupied slots of
	// the old ring are discarded, flags included.
	bufs := make([]buffer, slots)
	n := p.occupancy()
	for i := uint(0); i < n; i++ {
		bufs[i] = p.bufs[(p.tail+i)&p.mask()]
	}
	p.bufs = bufs
	p.tail = 0
	p.head = n
	return slots * PageSize, nil
}

// write implements pipe_write.
func (p *pipe) write(src []byte, nonblock bool) (int, error) {
	if p.readers == 0 {
		return 0, unix.EPIPE
	}
	if len(src) == 0 {
		return 0, nil
	}

	done := 0

	// Only the part that does not fill whole pages is merged into the last
	// buffer.
	if chars := len(src) & (PageSize - 1); chars != 0 && !p.empty() {
		buf := &p.bufs[(p.head-1)&p.mask()]
		offset := buf.offset + buf.len
		if buf.flags&FlagCanMerge != 0 && offset+chars <= PageSize {
			copy(buf.page.data[offset:], src[:chars])
			buf.len += chars
			done = chars
			if done == len(src) {
				return done, nil
			}
		}
	}

	for done < len(src) {
		if p.full() {
			if done > 0 {
				return done, nil
			}
			if nonblock {
				return 0, unix.EAGAIN
			}
			return 0, ErrWouldBlock
		}
		buf := &p.bufs[p.head&p.mask()]
		p.head++
		pg := newAnonPage()
		n := copy(pg.data, src[done:])
		*buf = buffer{page: pg, len: n, flags: FlagCanMerge}
		done += n
	}
	return done, nil
}

// read implements pipe_read. Emptied buffers release their page, but their
// flags stay in the slot.
func (p *pipe) read(dst []byte, nonblock bool) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	done := 0
	for done < len(dst) {
		if p.empty() {
			if done > 0 {
				break
			}
			if p.writers == 0 {
				return 0, nil
			}
			if nonblock {
				return 0, unix.EAGAIN
			}
			return 0, ErrWouldBlock
		}
		buf := &p.bufs[p.tail&p.mask()]
		n := copy(dst[done:], buf.page.data[buf.offset:buf.offset+buf.len])
		buf.offset += n
		buf.len -= n
		done += n
		if buf.len == 0 {
			buf.page = nil
			p.tail++
		}
	}
	return done, nil
}

// insertPage implements copy_page_to_iter_pipe: it appends a reference to
// file page pg to the ring. clearFlags is what the fix for CVE-2022-0847
// added.
func (p *pipe) insertPage(pg *page, offset, length int, clearFlags bool) (int, error) {
	if !p.empty() {
		prev := &p.bufs[(p.head-1)&p.mask()]
		if prev.page == pg && prev.offset+prev.len == offset {
			prev.len += length
			return length, nil
		}
	}
	if p.full() {
		return 0, unix.EAGAIN
	}
	buf := &p.bufs[p.head&p.mask()]
	p.head++
	buf.page = pg
	buf.offset = offset
	buf.len = length
	if clearFlags {
		buf.flags = 0
	}
	return length, nil
}

func (p *pipe) info() []BufferInfo {
	out := make([]BufferInfo, len(p.bufs))
	for i := range p.bufs {
		b := p.bufs[i]
		out[i] = BufferInfo{
			PageCache: b.page != nil && b.page.file != nil,
			Offset:    b.offset,
			Len:       b.len,
			Flags:     b.flags,
		}
	}
	for i := p.tail; i != p.head; i++ {
		out[i&p.mask()].Occupied = true
	}
	return out
}

// String summarizes the ring like a pipe_inode_info dump.
func (p *pipe) String() string {
	return fmt.Sprintf("head=%d tail=%d ring_size=%d", p.head, p.tail, len(p.bufs))
}
