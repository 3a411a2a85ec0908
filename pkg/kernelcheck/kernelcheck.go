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

// Package kernelcheck tells whether the running kernel falls in the
// CVE-2022-0847 window.
//
// The check is based on the upstream version only. Distribution kernels
// backport fixes without changing the version, so Vulnerable means "might be
// vulnerable", and only a run of the demonstration is conclusive.
package kernelcheck

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"
)

// Version is an upstream kernel version.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less returns true if v is older than o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// ParseRelease parses a uname release such as "5.16.10-arch1-1" or
// "5.15.0". A missing patch level is zero.
func ParseRelease(release string) (Version, error) {
	// Cut at the first character that is neither a digit nor a dot.
	end := strings.IndexFunc(release, func(r rune) bool {
		return r != '.' && (r < '0' || r > '9')
	})
	if end < 0 {
		end = len(release)
	}
	parts := strings.Split(strings.TrimSuffix(release[:end], "."), ".")
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("invalid kernel release %q", release)
	}
	var nums [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return Version{}, fmt.Errorf("invalid kernel release %q: %w", release, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Status classifies a kernel version.
type Status int

const (
	// NotAffected kernels predate the pipe_buffer merge change in 5.8.
	NotAffected Status = iota

	// Vulnerable kernels are in the window and have no upstream fix.
	Vulnerable

	// Patched kernels carry the upstream fix.
	Patched
)

func (s Status) String() string {
	switch s {
	case NotAffected:
		return "not affected"
	case Vulnerable:
		return "vulnerable"
	case Patched:
		return "patched"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

var (
	introduced = Version{5, 8, 0}

	// fixes maps stable series to the first fixed release. Series newer than
	// the last entry shipped with the fix.
	fixes = map[Version]Version{
		{5, 10, 0}: {5, 10, 102},
		{5, 15, 0}: {5, 15, 25},
		{5, 16, 0}: {5, 16, 11},
	}
	mainline = Version{5, 17, 0}
)

// Classify returns the status of v.
func Classify(v Version) Status {
	if v.Less(introduced) {
		return NotAffected
	}
	if !v.Less(mainline) {
		return Patched
	}
	if fixed, ok := fixes[Version{v.Major, v.Minor, 0}]; ok && !v.Less(fixed) {
		return Patched
	}
	return Vulnerable
}

// Report describes the running system.
type Report struct {
	// Release is the uname release string.
	Release string

	Version Version
	Status  Status

	// DACOverride is true if the process can write files regardless of
	// permissions, in which case the demonstration proves nothing.
	DACOverride bool
}

// Check inspects the running kernel and the process capabilities.
func Check() (Report, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return Report{}, fmt.Errorf("uname: %w", err)
	}
	release := unix.ByteSliceToString(uts.Release[:])
	v, err := ParseRelease(release)
	if err != nil {
		return Report{}, err
	}
	dac, err := hasDACOverride()
	if err != nil {
		return Report{}, err
	}
	return Report{
		Release:     release,
		Version:     v,
		Status:      Classify(v),
		DACOverride: dac,
	}, nil
}

func hasDACOverride() (bool, error) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return false, fmt.Errorf("reading capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return false, fmt.Errorf("loading capabilities: %w", err)
	}
	return caps.Get(capability.EFFECTIVE, capability.CAP_DAC_OVERRIDE), nil
}
