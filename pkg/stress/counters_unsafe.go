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
	"unsafe"

	"kstress.dev/kstress/pkg/atomicbitops"
)

func (c *Counters) word(i int) *atomicbitops.Uint64 {
	return (*atomicbitops.Uint64)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(c.mem)), uintptr(i)*8))
}

// Bump increments counter i non-atomically. The shared counter is bumped
// this way deliberately: it is only correct while the caller holds the
// run's lock, which is exactly what the lock stressors verify.
func (c *Counters) Bump(i int) {
	c.word(i).RacyAdd(1)
}

// Get reads counter i.
func (c *Counters) Get(i int) uint64 {
	return c.word(i).Load()
}

// Set writes counter i.
func (c *Counters) Set(i int, v uint64) {
	c.word(i).Store(v)
}
