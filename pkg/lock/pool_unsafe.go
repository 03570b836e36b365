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

package lock

import (
	"unsafe"
)

// Pool memory layout, identical in every attached process:
//
//	[ header: 64 bytes ][ slot 0 ][ slot 1 ] ... [ slot N-1 ]
//
// Slot 0 is the allocator lock. Both structs are padded to a cache line so
// that contended lock words in adjacent slots do not share one.
const (
	headerBytes = 64
	slotBytes   = 64

	// headerMagic marks a mapped pool ("kstr").
	headerMagic uint32 = 0x6b737472

	// slotMagic is the in-use slot tag ("LOCK"). The free sentinel is 0;
	// no other tag value is ever written.
	slotMagic uint32 = 0x4c4f434b
)

type header struct {
	magic   uint32
	version uint32

	// method is the method ID fixed at Create; attaching processes must
	// dispatch through the same method.
	method uint32

	// slots counts all slots including the allocator slot.
	slots uint32

	// running is the pool-wide keep-running flag (1 while the run is
	// live). Accessed atomically from every attached process.
	running uint32

	_ [44]byte
}

type slot struct {
	// tag is slotMagic while the slot is in use, 0 while free.
	tag uint32

	// word is the lock word for the spin and futex methods.
	word uint32

	// sem is the SYS-V semaphore set ID for the sem-sysv method.
	sem int32

	_ [52]byte
}

// Layout is shared across processes; both directions of each subtraction
// must be non-negative for this to compile.
var (
	_ [headerBytes - unsafe.Sizeof(header{})]byte
	_ [unsafe.Sizeof(header{}) - headerBytes]byte
	_ [slotBytes - unsafe.Sizeof(slot{})]byte
	_ [unsafe.Sizeof(slot{}) - slotBytes]byte
)

func poolBytes(slots uint32) uintptr {
	return uintptr(headerBytes) + uintptr(slots)*slotBytes
}

func (p *Pool) header() *header {
	return (*header)(unsafe.Pointer(unsafe.SliceData(p.mem)))
}

func (p *Pool) slot(i uint32) *slot {
	return (*slot)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(p.mem)), headerBytes+uintptr(i)*slotBytes))
}
