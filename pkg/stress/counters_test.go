// Copyright 2025 The kstress Authors.
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

package stress

import (
	"testing"
)

func TestCounters(t *testing.T) {
	c, err := CreateCounters()
	if err != nil {
		t.Fatalf("CreateCounters failed: %v", err)
	}
	defer c.Destroy()

	if got := c.Get(SharedCounter); got != 0 {
		t.Errorf("fresh counter = %d, want 0", got)
	}
	c.Bump(SharedCounter)
	c.Bump(SharedCounter)
	c.Set(1, 42)
	if got := c.Get(SharedCounter); got != 2 {
		t.Errorf("shared counter = %d, want 2", got)
	}

	// A second mapping of the same page sees the same values.
	d, err := AttachCounters(c.File())
	if err != nil {
		t.Fatalf("AttachCounters failed: %v", err)
	}
	defer d.Detach()
	if got := d.Get(SharedCounter); got != 2 {
		t.Errorf("attached shared counter = %d, want 2", got)
	}
	if got := d.Get(1); got != 42 {
		t.Errorf("attached counter 1 = %d, want 42", got)
	}
	d.Bump(1)
	if got := c.Get(1); got != 43 {
		t.Errorf("counter 1 after bump in other mapping = %d, want 43", got)
	}
}
