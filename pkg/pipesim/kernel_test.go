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
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

const target = "./target_file"

var content = []byte("Hello, World! This is a test file.\n")

// onePagePipe returns a pipe shrunk to a single slot.
func onePagePipe(t *testing.T, k *Kernel) (int, int) {
	t.Helper()
	r, w, err := k.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	if got, err := k.SetPipeSize(w, PageSize); err != nil || got != PageSize {
		t.Fatalf("SetPipeSize: got (%d, %v), wanted (%d, nil)", got, err, PageSize)
	}
	return r, w
}

// fillAndDrain leaves the single slot empty but flagged mergeable.
func fillAndDrain(t *testing.T, k *Kernel, r, w int) {
	t.Helper()
	chunk := []byte("AAAAAAAA")
	for i := 0; i < PageSize/len(chunk); i++ {
		if n, err := k.Write(w, chunk); n != len(chunk) || err != nil {
			t.Fatalf("Write %d: got (%d, %v), wanted (%d, nil)", i, n, err, len(chunk))
		}
	}
	buf := make([]byte, len(chunk))
	for i := 0; i < PageSize/len(chunk); i++ {
		if n, err := k.Read(r, buf); n != len(chunk) || err != nil {
			t.Fatalf("Read %d: got (%d, %v), wanted (%d, nil)", i, n, err, len(chunk))
		}
	}
}

func TestSetPipeSize(t *testing.T) {
	for _, tc := range []struct {
		name    string
		size    int
		want    int
		wantErr error
	}{
		{name: "one page", size: PageSize, want: PageSize},
		{name: "rounded to page", size: 1, want: PageSize},
		{name: "rounded to power of two", size: 3 * PageSize, want: 4 * PageSize},
		{name: "default", size: DefaultPipeSize, want: DefaultPipeSize},
		{name: "zero", size: 0, wantErr: unix.EINVAL},
		{name: "over limit", size: 2 * MaximumPipeSize, wantErr: unix.EPERM},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := NewKernel(true)
			_, w, _ := k.Pipe()
			got, err := k.SetPipeSize(w, tc.size)
			if got != tc.want || !errors.Is(err, tc.wantErr) {
				t.Errorf("SetPipeSize(%d): got (%d, %v), wanted (%d, %v)", tc.size, got, err, tc.want, tc.wantErr)
			}
		})
	}
}

func TestSetPipeSizeBusy(t *testing.T) {
	k := NewKernel(true)
	_, w, _ := k.Pipe()
	msg := make([]byte, 2*PageSize)
	if n, err := k.Write(w, msg); n != len(msg) || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (%d, nil)", n, err, len(msg))
	}
	if _, err := k.SetPipeSize(w, PageSize); err != unix.EBUSY {
		t.Errorf("SetPipeSize with two occupied slots: got %v, wanted %v", err, unix.EBUSY)
	}
}

func TestPipeWriteMerges(t *testing.T) {
	k := NewKernel(true)
	_, w := onePagePipe(t, k)
	for i := 0; i < 2; i++ {
		if _, err := k.Write(w, []byte("AAAAAAAA")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	bufs, err := k.PipeBuffers(w)
	if err != nil {
		t.Fatalf("PipeBuffers: %v", err)
	}
	want := []BufferInfo{{Occupied: true, Len: 16, Flags: FlagCanMerge}}
	if diff := cmp.Diff(want, bufs); diff != "" {
		t.Errorf("ring mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeCapacity(t *testing.T) {
	k := NewKernel(true)
	_, w := onePagePipe(t, k)
	if err := k.SetNonblock(w, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	msg := make([]byte, PageSize+1)
	if n, err := k.Write(w, msg); n != PageSize || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (%d, nil)", n, err, PageSize)
	}
	if n, err := k.Write(w, msg[:1]); n != 0 || err != unix.EAGAIN {
		t.Fatalf("Write to full pipe: got (%d, %v), wanted (0, %v)", n, err, unix.EAGAIN)
	}
	if n, _ := k.Buffered(w); n != PageSize {
		t.Errorf("Buffered: got %d, wanted %d", n, PageSize)
	}
}

func TestPipeBlockingWriteWouldBlock(t *testing.T) {
	k := NewKernel(true)
	_, w := onePagePipe(t, k)
	if _, err := k.Write(w, make([]byte, PageSize)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := k.Write(w, []byte{0}); err != ErrWouldBlock {
		t.Errorf("Write to full blocking pipe: got %v, wanted %v", err, ErrWouldBlock)
	}
}

func TestDrainKeepsFlags(t *testing.T) {
	k := NewKernel(false)
	r, w := onePagePipe(t, k)
	fillAndDrain(t, k, r, w)

	if n, err := k.Buffered(r); n != 0 || err != nil {
		t.Fatalf("Buffered: got (%d, %v), wanted (0, nil)", n, err)
	}
	bufs, _ := k.PipeBuffers(r)
	want := []BufferInfo{{Offset: PageSize, Flags: FlagCanMerge}}
	if diff := cmp.Diff(want, bufs); diff != "" {
		t.Errorf("ring mismatch (-want +got):\n%s", diff)
	}
	if got, want := k.PipeString(r), "head=1 tail=1 ring_size=1"; got != want {
		t.Errorf("PipeString: got %q, want %q", got, want)
	}
}

func TestSpliceFlags(t *testing.T) {
	for _, tc := range []struct {
		vulnerable bool
		wantFlags  Flags
	}{
		{vulnerable: true, wantFlags: FlagCanMerge},
		{vulnerable: false, wantFlags: 0},
	} {
		k := NewKernel(tc.vulnerable)
		k.AddFile(target, content)
		fd, _ := k.OpenReadOnly(target)
		r, w := onePagePipe(t, k)
		fillAndDrain(t, k, r, w)

		var off int64
		if n, err := k.Splice(fd, &off, w, 5); n != 5 || err != nil {
			t.Fatalf("Splice: got (%d, %v), wanted (5, nil)", n, err)
		}
		if off != 5 {
			t.Errorf("Splice offset: got %d, want 5", off)
		}
		bufs, _ := k.PipeBuffers(w)
		want := []BufferInfo{{Occupied: true, PageCache: true, Len: 5, Flags: tc.wantFlags}}
		if diff := cmp.Diff(want, bufs); diff != "" {
			t.Errorf("vulnerable=%t: ring mismatch (-want +got):\n%s", tc.vulnerable, diff)
		}
	}
}

func TestWriteAfterSpliceVulnerable(t *testing.T) {
	k := NewKernel(true)
	f := k.AddFile(target, content)
	fd, _ := k.OpenReadOnly(target)
	r, w := onePagePipe(t, k)
	fillAndDrain(t, k, r, w)

	var off int64
	if _, err := k.Splice(fd, &off, w, 5); err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if n, err := k.Write(w, []byte("pwned by user")); n != 13 || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (13, nil)", n, err)
	}

	want := []byte("Hellopwned by user is a test file.\n")
	if got := f.Cached(); !bytes.Equal(got, want) {
		t.Errorf("page cache: got %q, want %q", got, want)
	}
	if got := f.Disk(); !bytes.Equal(got, content) {
		t.Errorf("disk changed: got %q, want %q", got, content)
	}

	// The slot keeps PIPE_BUF_FLAG_CAN_MERGE, so a second write appends to
	// the page cache as well.
	if _, err := k.Write(w, []byte("!!")); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if got, want := string(f.Cached()[18:20]), "!!"; got != want {
		t.Errorf("second write: got %q at offset 18, want %q", got, want)
	}

	// Reading the pipe returns the spliced bytes followed by everything
	// written, all served from the page cache.
	buf := make([]byte, 64)
	n, err := k.Read(r, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got, want := string(buf[:n]), "Hellopwned by user!!"; got != want {
		t.Errorf("Read: got %q, want %q", got, want)
	}
}

func TestWriteAfterSpliceFixed(t *testing.T) {
	k := NewKernel(false)
	f := k.AddFile(target, content)
	fd, _ := k.OpenReadOnly(target)
	r, w := onePagePipe(t, k)
	fillAndDrain(t, k, r, w)

	var off int64
	if _, err := k.Splice(fd, &off, w, 5); err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if err := k.SetNonblock(w, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	if n, err := k.Write(w, []byte("pwned by user")); n != 0 || err != unix.EAGAIN {
		t.Fatalf("Write: got (%d, %v), wanted (0, %v)", n, err, unix.EAGAIN)
	}
	if got := f.Cached(); !bytes.Equal(got, content) {
		t.Errorf("page cache changed: got %q, want %q", got, content)
	}

	// Once the spliced slot is consumed, the write goes to a fresh page.
	buf := make([]byte, 5)
	if n, err := k.Read(r, buf); n != 5 || err != nil {
		t.Fatalf("Read: got (%d, %v), wanted (5, nil)", n, err)
	}
	if n, err := k.Write(w, []byte("pwned by user")); n != 13 || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (13, nil)", n, err)
	}
	if got := f.Cached(); !bytes.Equal(got, content) {
		t.Errorf("page cache changed: got %q, want %q", got, content)
	}
}

func TestSpliceShortFile(t *testing.T) {
	k := NewKernel(true)
	k.AddFile(target, []byte("abc"))
	fd, _ := k.OpenReadOnly(target)
	_, w := onePagePipe(t, k)

	if n, err := k.Splice(fd, nil, w, 5); n != 3 || err != nil {
		t.Errorf("Splice: got (%d, %v), wanted (3, nil)", n, err)
	}
	if n, err := k.Splice(fd, nil, w, 5); n != 0 || err != nil {
		t.Errorf("Splice at EOF: got (%d, %v), wanted (0, nil)", n, err)
	}
}

func TestMapShared(t *testing.T) {
	const hint = 0x1337000
	k := NewKernel(true)
	k.AddFile(target, content)
	fd, _ := k.OpenReadOnly(target)

	m, err := k.MapShared(fd, hint, PageSize)
	if err != nil {
		t.Fatalf("MapShared: %v", err)
	}
	if m.Addr() != hint {
		t.Errorf("Addr: got %#x, want %#x", m.Addr(), hint)
	}
	if got := m.Bytes(); len(got) != PageSize || !bytes.Equal(got[:len(content)], content) || got[len(content)] != 0 {
		t.Errorf("Bytes: got %q..., want %q followed by zeroes", got[:len(content)+1], content)
	}

	// The hint is taken now.
	m2, err := k.MapShared(fd, hint, PageSize)
	if err != nil {
		t.Fatalf("MapShared: %v", err)
	}
	if m2.Addr() == hint {
		t.Errorf("second mapping placed at taken hint %#x", hint)
	}

	m3, err := k.MapShared(fd, 0, PageSize)
	if err != nil {
		t.Fatalf("MapShared without hint: %v", err)
	}
	if m3.Addr() == 0 || m3.Addr() == m2.Addr() {
		t.Errorf("MapShared without hint: got address %#x, second mapping at %#x", m3.Addr(), m2.Addr())
	}

	if _, err := k.MapShared(fd, hint, 2*PageSize); err != unix.ENXIO {
		t.Errorf("MapShared past EOF: got %v, want %v", err, unix.ENXIO)
	}
	if err := m.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
	if err := m.Release(); err != unix.EINVAL {
		t.Errorf("second Release: got %v, want %v", err, unix.EINVAL)
	}
}

func TestFlagsString(t *testing.T) {
	for _, tc := range []struct {
		flags Flags
		want  string
	}{
		{0, "0"},
		{FlagCanMerge, "PIPE_BUF_FLAG_CAN_MERGE"},
		{FlagLRU | FlagCanMerge, "PIPE_BUF_FLAG_LRU | PIPE_BUF_FLAG_CAN_MERGE"},
	} {
		if got := tc.flags.String(); got != tc.want {
			t.Errorf("Flags(%#x).String(): got %q, want %q", uint32(tc.flags), got, tc.want)
		}
	}
}

func TestClosedPipe(t *testing.T) {
	k := NewKernel(true)
	r, w := onePagePipe(t, k)
	if err := k.Close(r); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := k.Write(w, []byte("x")); err != unix.EPIPE {
		t.Errorf("Write without readers: got %v, want %v", err, unix.EPIPE)
	}
	if err := k.Close(r); err != unix.EBADF {
		t.Errorf("second Close: got %v, want %v", err, unix.EBADF)
	}
}
