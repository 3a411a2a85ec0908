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

package cleanup

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// acquire mimics a two-step acquisition where the second step may fail.
func acquire(order *[]string, failSecond bool) (func(), error) {
	cu := Make(func() { *order = append(*order, "close fd") })
	defer cu.Clean()

	cu.Add(func() { *order = append(*order, "unmap") })
	if failSecond {
		return nil, errors.New("pipe failed")
	}
	return cu.Release(), nil
}

func TestCleanOnFailure(t *testing.T) {
	var order []string
	if _, err := acquire(&order, true); err == nil {
		t.Fatalf("acquire succeeded, want error")
	}
	want := []string{"unmap", "close fd"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("cleanup order mismatch (-want +got):\n%s", diff)
	}
}

func TestReleaseOnSuccess(t *testing.T) {
	var order []string
	release, err := acquire(&order, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(order) != 0 {
		t.Fatalf("cleanup ran after release: %v", order)
	}

	release()
	want := []string{"unmap", "close fd"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("released cleanup order mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanTwice(t *testing.T) {
	calls := 0
	cu := Make(func() { calls++ })
	cu.Clean()
	cu.Clean()
	if calls != 1 {
		t.Errorf("cleanup called %d times, want 1", calls)
	}
}
